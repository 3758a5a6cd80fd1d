package rtc

import (
	"context"
	"testing"
)

func TestIngestOpenReportsDecodeRate(t *testing.T) {
	g := NewIngest("test")
	rate, err := g.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rate != IngestRate {
		t.Fatalf("rate = %d, want %d", rate, IngestRate)
	}
}

func TestIngestRejectsBadOffer(t *testing.T) {
	g := NewIngest("test")
	if _, err := g.HandleOffer(context.Background(), SessionDescription{Type: "answer", SDP: "x"}); err == nil {
		t.Fatalf("expected error for non-offer")
	}
	if _, err := g.HandleOffer(context.Background(), SessionDescription{Type: "offer", SDP: ""}); err == nil {
		t.Fatalf("expected error for empty sdp")
	}
}

func TestIngestStopBeforeOfferIsSafe(t *testing.T) {
	g := NewIngest("test")
	if err := g.Start(func([]float32) {}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
