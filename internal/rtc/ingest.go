// Package rtc lets a browser-based practice UI feed its microphone into the
// verifier over WebRTC. Inference still runs entirely in this process; the
// peer connection is capture transport only.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/chadiek/fretcheck/internal/capture"
)

// IngestRate is the PCM rate after Opus decoding.
const IngestRate = 48000

// SessionDescription is a small DTO so transport handlers never expose pion
// types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Ingest is a capture.Source fed by a remote browser microphone. The client
// must open its mic with echo cancellation, noise suppression, and auto gain
// disabled.
type Ingest struct {
	label string

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	onSamples func([]float32)
	onErr     func(error)
	stopped   bool
}

// NewIngest builds an idle ingest; label tags its log lines.
func NewIngest(label string) *Ingest {
	return &Ingest{label: label}
}

// Open reports the decode rate. The peer connection is created lazily by
// HandleOffer because the SDP exchange happens over HTTP.
func (g *Ingest) Open(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return IngestRate, nil
}

// Start registers the engine-side callbacks. Samples begin to flow once the
// browser completes the SDP exchange.
func (g *Ingest) Start(onSamples func([]float32), onErr func(error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSamples = onSamples
	g.onErr = onErr
	g.stopped = false
	return nil
}

// Stop closes the peer connection. Safe to call repeatedly.
func (g *Ingest) Stop() error {
	g.mu.Lock()
	pc := g.pc
	g.pc = nil
	g.stopped = true
	g.mu.Unlock()
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// HandleOffer accepts the browser's SDP offer and returns the answer. The
// first audio track received is decoded and pushed into the engine.
func (g *Ingest) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("rtc: invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return SessionDescription{}, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] peer connection state: %s", g.label, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			g.fail(fmt.Errorf("%w: peer connection %s", capture.ErrDeviceUnavailable, state.String()))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] remote audio track: codec=%s", g.label, remote.Codec().MimeType)
		dec, derr := opus.NewDecoder(IngestRate, 1)
		if derr != nil {
			g.fail(fmt.Errorf("%w: opus decoder: %v", capture.ErrDeviceUnavailable, derr))
			return
		}
		go g.readTrack(remote, dec)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("rtc: no local description")
	}

	g.mu.Lock()
	old := g.pc
	g.pc = pc
	g.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readTrack decodes RTP payloads to mono float32 and forwards them.
func (g *Ingest) readTrack(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	pcm := make([]int16, 5760) // up to 120 ms at 48 kHz
	buf := make([]float32, 5760)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			g.mu.Lock()
			stopped := g.stopped
			g.mu.Unlock()
			if !stopped {
				log.Printf("[%s] rtp read error: %v", g.label, err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Printf("[%s] opus decode error: %v", g.label, err)
			continue
		}
		for i := 0; i < n; i++ {
			buf[i] = float32(pcm[i]) / 32768
		}
		g.mu.Lock()
		onSamples := g.onSamples
		g.mu.Unlock()
		if onSamples != nil {
			onSamples(buf[:n])
		}
	}
}

func (g *Ingest) fail(err error) {
	g.mu.Lock()
	onErr := g.onErr
	stopped := g.stopped
	g.mu.Unlock()
	if !stopped && onErr != nil {
		onErr(err)
	}
}
