package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/garloff/jitsi-whisper-bridge/internal/audio"
	"github.com/garloff/jitsi-whisper-bridge/internal/auth"
	"github.com/garloff/jitsi-whisper-bridge/internal/config"
	"github.com/garloff/jitsi-whisper-bridge/internal/filter"
	"github.com/garloff/jitsi-whisper-bridge/internal/metrics"
	"github.com/garloff/jitsi-whisper-bridge/internal/session"
)

// WSPathPrefix is the WebSocket endpoint; the meeting identifier follows it
const WSPathPrefix = "/streaming-whisper/ws/"

// Server accepts WebSocket connections from the conferencing gateway,
// authenticates them, and runs one session per accepted connection. The
// accept path never blocks on per-session work.
type Server struct {
	config      *config.Config
	verifier    *auth.Verifier
	rules       *filter.RuleSet
	transcriber session.Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.RWMutex
	sessions map[string]*session.Session
	wg       sync.WaitGroup

	// sessionCtx is cancelled on Stop to signal every session
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	// Statistics
	connectionsTotal uint64
	authRejections   uint64
	startTime        time.Time
}

// NewServer creates the bridge server
func NewServer(cfg *config.Config, verifier *auth.Verifier, rules *filter.RuleSet,
	transcriber session.Transcriber, m *metrics.Metrics, logger *slog.Logger) *Server {

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:      cfg,
		verifier:    verifier,
		rules:       rules,
		transcriber: transcriber,
		metrics:     m,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway is a server-side peer, not a browser
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions:      make(map[string]*session.Session),
		sessionCtx:    ctx,
		sessionCancel: cancel,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPathPrefix, s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Handler: mux,
	}

	return s
}

// Start begins accepting connections. It does not block.
func (s *Server) Start() error {
	s.logger.Info("Starting bridge server",
		slog.String("address", s.httpServer.Addr),
		slog.String("path", WSPathPrefix),
		slog.Bool("auth", s.verifier.Enabled()),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Bridge server error", slog.String("error", err.Error()))
		}
	}()

	go s.cleanupLoop()

	return nil
}

// Stop closes the listener, signals every session, and waits for them to
// finish within the shutdown grace period.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping bridge server...",
		slog.Int("active_sessions", s.GetActiveSessionCount()))

	// No new connections
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("Listener shutdown error", slog.String("error", err.Error()))
	}

	// Every session gets the cancellation signal and a bounded grace period
	s.sessionCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All sessions closed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Forced teardown with sessions still open",
			slog.Int("remaining", s.GetActiveSessionCount()))
		return ctx.Err()
	}
}

// handleWebSocket authenticates and upgrades one inbound connection, then
// hands it to a new session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	atomic.AddUint64(&s.connectionsTotal, 1)
	s.metrics.RecordConnection()

	meetingID := strings.TrimPrefix(r.URL.Path, WSPathPrefix)
	if meetingID == "" || strings.Contains(meetingID, "/") {
		http.NotFound(w, r)
		return
	}

	issuer, ok := s.authenticate(r)
	if !ok {
		atomic.AddUint64(&s.authRejections, 1)
		s.metrics.RecordAuthRejection()
		// Deliberately generic: the peer learns nothing about why
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RecordUpgradeFailure()
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	sess := session.New(conn, meetingID, issuer, session.Config{
		PingInterval:   s.config.Server.GetPingInterval(),
		PingTimeout:    s.config.Server.GetPingTimeout(),
		MaxMessageSize: s.config.Server.MaxMessageSize,
		ShutdownGrace:  s.config.Server.GetShutdownGrace(),
		Segmenter: audio.SegmenterConfig{
			SampleRate:       s.config.Audio.SampleRate,
			ChunkDuration:    s.config.Audio.GetChunkDuration(),
			MinBuffer:        s.config.Audio.GetMinBuffer(),
			SilenceThreshold: s.config.Audio.SilenceThreshold,
			SilenceFrames:    s.config.Audio.SilenceFrames,
		},
		AutoDetectCode:  s.config.Language.AutoDetectCode,
		DefaultLanguage: s.config.Language.Default,
	}, s.rules, s.transcriber, s.metrics, s.logger)

	s.register(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(sess.ID)
		sess.Run(s.sessionCtx)
	}()
}

// authenticate verifies the bearer token on the upgrade request. The
// rejection reason is logged and counted but never sent to the peer.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.verifier.Enabled() {
		return "no-auth-mode", true
	}

	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		s.logger.Warn("Connection rejected: missing bearer token",
			slog.String("remote", r.RemoteAddr))
		return "", false
	}

	issuer, reason := s.verifier.Verify(token, time.Now())
	if reason != auth.ReasonOK {
		s.logger.Warn("Connection rejected",
			slog.String("remote", r.RemoteAddr),
			slog.String("reason", reason.String()))
		return "", false
	}

	return issuer, true
}

func (s *Server) register(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(count)
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetActiveSessions(count)
}

// cleanupLoop periodically sweeps sessions that reached the terminal state
// without unregistering. Sessions normally remove themselves; this covers
// the registry against leaks.
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.State() == session.StateClosed {
					delete(s.sessions, id)
					s.logger.Warn("Swept stale session from registry",
						slog.String("session_id", id))
				}
			}
			count := len(s.sessions)
			s.mu.Unlock()
			s.metrics.SetActiveSessions(count)

		case <-s.sessionCtx.Done():
			return
		}
	}
}

// GetActiveSessionCount returns the number of registered sessions
func (s *Server) GetActiveSessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// GetSession looks up one session by identifier
func (s *Server) GetSession(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetAllSessions returns a snapshot of the registered sessions
func (s *Server) GetAllSessions() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Statistics holds cumulative server counters
type Statistics struct {
	ConnectionsTotal uint64 `json:"connections_total"`
	AuthRejections   uint64 `json:"auth_rejections"`
	ActiveSessions   int    `json:"active_sessions"`
}

// GetStatistics returns a snapshot of the server counters
func (s *Server) GetStatistics() Statistics {
	return Statistics{
		ConnectionsTotal: atomic.LoadUint64(&s.connectionsTotal),
		AuthRejections:   atomic.LoadUint64(&s.authRejections),
		ActiveSessions:   s.GetActiveSessionCount(),
	}
}
