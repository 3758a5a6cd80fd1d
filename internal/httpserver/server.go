// Package httpserver exposes the verifier to a local practice UI: session
// management, expected-chord updates, a WebSocket verdict stream, and the
// WebRTC capture exchange. It binds to loopback by default; it is a UI
// surface, not a public API.
package httpserver

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/rtc"
	"github.com/chadiek/fretcheck/internal/transcribe"
	"github.com/chadiek/fretcheck/internal/verify"
)

// Deps wires the server to the rest of the system; the commands fill it in.
type Deps struct {
	EngineConfig verify.Config
	// NewAdapter builds a transcription adapter per session.
	NewAdapter func() transcribe.Adapter
	// NewDeviceSource builds a local capture source per device-mode session.
	NewDeviceSource func() capture.Source
}

// Server bundles the echo router and the live sessions.
type Server struct {
	deps Deps
	echo *echo.Echo

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, sessions: make(map[string]*session)}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/session", s.createSession)
	e.DELETE("/session/:id", s.deleteSession)
	e.POST("/session/:id/expected", s.setExpected)
	e.POST("/session/:id/call", s.handleCall)
	e.GET("/session/:id/stream", s.stream)

	s.echo = e
	return s
}

// Router returns the handler for an http.Server.
func (s *Server) Router() http.Handler { return s.echo }

// Close stops every live session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

type createSessionRequest struct {
	// Mode is "device" (default) or "webrtc".
	Mode string `json:"mode"`
}

type createSessionResponse struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = "device"
	}

	id := uuid.NewString()
	var src capture.Source
	var ingest *rtc.Ingest
	switch mode {
	case "device":
		src = s.deps.NewDeviceSource()
	case "webrtc":
		ingest = rtc.NewIngest(id)
		src = ingest
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be device or webrtc")
	}

	engine, err := verify.New(s.deps.EngineConfig, s.deps.NewAdapter(), src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sess := newSession(id, engine, ingest)
	engine.OnResult(sess.forward)
	if err := engine.Start(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	log.Printf("ws: session %s created mode=%s", id, mode)
	return c.JSON(http.StatusCreated, createSessionResponse{ID: id, Mode: mode})
}

func (s *Server) lookup(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	sess.close()
	return c.NoContent(http.StatusNoContent)
}

type expectedRequest struct {
	// Notes is a note list like "E G B".
	Notes string `json:"notes"`
	K     int    `json:"k"`
	Root  string `json:"root"`
}

func (s *Server) setExpected(c echo.Context) error {
	sess := s.lookup(c.Param("id"))
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	var req expectedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	spec, err := chord.ParseSpec(req.Notes, req.K, req.Root)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := sess.engine.SetExpected(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"expected": spec.String()})
}

func (s *Server) handleCall(c echo.Context) error {
	sess := s.lookup(c.Param("id"))
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	if sess.ingest == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session is not in webrtc mode")
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	answer, err := sess.ingest.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		log.Printf("ws: webrtc offer failed for %s: %v", sess.id, err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) stream(c echo.Context) error {
	sess := s.lookup(c.Param("id"))
	if sess == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sess.attach(conn)
	return nil
}
