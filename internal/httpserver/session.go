package httpserver

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gorilla/websocket"

	"github.com/chadiek/fretcheck/internal/rtc"
	"github.com/chadiek/fretcheck/internal/verify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Loopback UI surface; the CORS middleware already gates browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// session binds one engine to its WebSocket subscribers.
type session struct {
	id     string
	engine *verify.Engine
	ingest *rtc.Ingest

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
	// wmu serializes writes: both the worker and the debounce timer
	// broadcast, and gorilla allows one concurrent writer per conn.
	wmu sync.Mutex

	// Notes overlays arrive every tick; slow UI clients only need the most
	// recent one, so their broadcast is debounced. Verdicts that change
	// practice state (match/miss/error) are never held back.
	notesDebounce func(func())
	latestNotes   []byte
}

func newSession(id string, engine *verify.Engine, ingest *rtc.Ingest) *session {
	return &session{
		id:            id,
		engine:        engine,
		ingest:        ingest,
		conns:         make(map[*websocket.Conn]bool),
		notesDebounce: debounce.New(100 * time.Millisecond),
	}
}

func (s *session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	// Reader loop: the stream is one-way, but we must consume control
	// frames and notice the peer going away.
	go func() {
		defer s.detach(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// forward runs on the engine worker; it must not block on slow clients.
func (s *session) forward(v verify.Verdict) {
	payload, err := verify.Encode(v)
	if err != nil {
		log.Printf("ws: encode verdict: %v", err)
		return
	}
	if v.Kind() == "notes" {
		s.mu.Lock()
		s.latestNotes = payload
		s.mu.Unlock()
		s.notesDebounce(func() {
			s.mu.Lock()
			latest := s.latestNotes
			s.mu.Unlock()
			if latest != nil {
				s.broadcast(latest)
			}
		})
		return
	}
	s.broadcast(payload)
}

func (s *session) broadcast(payload []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.detach(c)
		}
	}
}

func (s *session) close() {
	s.engine.Stop()
	if s.ingest != nil {
		_ = s.ingest.Stop()
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
