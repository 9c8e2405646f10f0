package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/garloff/jitsi-whisper-bridge/internal/audio"
	"github.com/garloff/jitsi-whisper-bridge/internal/filter"
	"github.com/garloff/jitsi-whisper-bridge/internal/metrics"
	"github.com/garloff/jitsi-whisper-bridge/internal/protocol"
	"github.com/garloff/jitsi-whisper-bridge/internal/whisper"
)

// State is the session lifecycle state
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

// String returns the state label used in logs and the monitoring API
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of the WebSocket connection the session drives.
// Satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Transcriber submits one audio segment for recognition. Satisfied by
// *whisper.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, segment *audio.Segment) *whisper.Result
}

// Config contains per-session settings
type Config struct {
	PingInterval    time.Duration
	PingTimeout     time.Duration
	MaxMessageSize  int64
	ShutdownGrace   time.Duration
	Segmenter       audio.SegmenterConfig
	AutoDetectCode  string
	DefaultLanguage string
}

// dispatched pairs a backend result with the participant the segment
// belonged to at dispatch time.
type dispatched struct {
	result        *whisper.Result
	participantID string
	language      string
}

// Session owns one client connection end-to-end: it reads audio frames,
// drives the segmenter, submits completed segments to the backend one at a
// time, filters the results, and writes transcript messages back. Each
// session runs as one goroutine plus a read pump; sessions share no mutable
// state with each other.
type Session struct {
	ID        string
	MeetingID string
	Issuer    string

	conn        Conn
	config      Config
	segmenter   *audio.Segmenter
	rules       *filter.RuleSet
	transcriber Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger

	state     atomic.Int32
	createdAt time.Time

	// Stream context, written only by the run loop; streamMu covers reads
	// from the monitoring API
	streamMu       sync.Mutex
	participantID  string
	language       string
	lastTranscript map[string]string // participant -> last delivered text
	inFlight       bool

	// Statistics
	framesReceived       atomic.Uint64
	malformedFrames      atomic.Uint64
	transcriptsDelivered atomic.Uint64
	transcriptsFiltered  atomic.Uint64

	writeMu sync.Mutex
	results chan dispatched
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var ulidMu sync.Mutex

// newSessionID generates a sortable unique session identifier
func newSessionID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// New creates a session for an authenticated connection
func New(conn Conn, meetingID, issuer string, config Config, rules *filter.RuleSet, transcriber Transcriber, m *metrics.Metrics, logger *slog.Logger) *Session {
	id := newSessionID()

	s := &Session{
		ID:             id,
		MeetingID:      meetingID,
		Issuer:         issuer,
		conn:           conn,
		config:         config,
		segmenter:      audio.NewSegmenter(config.Segmenter),
		rules:          rules,
		transcriber:    transcriber,
		metrics:        m,
		logger:         logger.With(slog.String("session_id", id), slog.String("meeting_id", meetingID)),
		createdAt:      time.Now(),
		language:       config.DefaultLanguage,
		lastTranscript: make(map[string]string),
		results:        make(chan dispatched, 1),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Debug("Session state changed",
			slog.String("from", prev.String()),
			slog.String("to", next.String()))
	}
}

// inbound is one message delivered by the read pump
type inbound struct {
	messageType int
	data        []byte
}

// Run drives the session until the connection closes or ctx is cancelled.
// It blocks for the session's whole lifetime and releases all resources
// before returning.
func (s *Session) Run(ctx context.Context) {
	s.setState(StateActive)
	s.metrics.RecordSessionCreated()
	s.logger.Info("Session started")

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PingTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PingInterval + s.config.PingTimeout))
	})

	messages := make(chan inbound, 16)
	readDone := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go s.readPump(messages, readDone, quit)

	pinger := time.NewTicker(s.config.PingInterval)
	defer pinger.Stop()

	var readErr error
loop:
	for {
		select {
		case msg := <-messages:
			s.handleMessage(ctx, msg)

		case d := <-s.results:
			s.handleResult(ctx, d)

		case <-pinger.C:
			deadline := time.Now().Add(s.config.PingTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Warn("Keepalive ping failed",
					slog.String("error", err.Error()))
				break loop
			}

		case err := <-readDone:
			readErr = err
			break loop

		case <-ctx.Done():
			s.shutdown()
			break loop
		}
	}

	s.setState(StateClosing)
	s.teardown(readErr)
}

// readPump reads messages until the connection fails and reports the final
// error. It is the only reader of the connection; quit unblocks it when the
// run loop has already exited.
func (s *Session) readPump(messages chan<- inbound, done chan<- error, quit <-chan struct{}) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		select {
		case messages <- inbound{messageType: messageType, data: data}:
		case <-quit:
			return
		}
	}
}

// handleMessage processes one inbound message in receipt order
func (s *Session) handleMessage(ctx context.Context, msg inbound) {
	if msg.messageType != websocket.BinaryMessage {
		// Text and other frames are tolerated but carry no audio
		s.logger.Debug("Ignoring non-binary message",
			slog.Int("type", msg.messageType))
		return
	}

	frame, err := protocol.ParseFrame(msg.data)
	if err != nil {
		s.malformedFrames.Add(1)
		s.metrics.RecordMalformedFrame()
		s.logger.Warn("Discarding malformed frame",
			slog.String("error", err.Error()),
			slog.Int("size", len(msg.data)))
		return
	}

	s.framesReceived.Add(1)
	s.metrics.RecordFrameReceived()

	s.streamMu.Lock()
	s.participantID = frame.ParticipantID
	if frame.Language != "" {
		s.language = frame.Language
	}
	s.streamMu.Unlock()

	if segment := s.segmenter.Push(frame.Audio); segment != nil {
		s.dispatch(ctx, segment)
	}
}

// dispatch submits one segment to the backend. The segmenter is suspended
// until the result arrives so no second call can start.
func (s *Session) dispatch(ctx context.Context, segment *audio.Segment) {
	segment.Language = s.language
	participantID := s.participantID

	s.inFlight = true
	s.segmenter.Suspend()

	s.metrics.RecordSegmentGenerated(segment.Duration.Seconds(), len(segment.PCM))
	s.logger.Debug("Dispatching segment",
		slog.Duration("duration", segment.Duration),
		slog.Int("bytes", len(segment.PCM)),
		slog.String("language", segment.Language))

	// The call is detached from session cancellation so an in-flight
	// request can finish during the shutdown grace period; the client's
	// own timeout still bounds it. An abandoned result lands in the
	// buffered channel and is discarded with the session.
	callCtx := context.WithoutCancel(ctx)

	go func() {
		result := s.transcriber.Transcribe(callCtx, segment)
		s.results <- dispatched{
			result:        result,
			participantID: participantID,
			language:      segment.Language,
		}
	}()
}

// handleResult consumes one backend result, applies filtering and duplicate
// suppression, and delivers the transcript. Backend failures drop the
// segment silently; the session keeps running either way.
func (s *Session) handleResult(ctx context.Context, d dispatched) {
	s.inFlight = false

	s.metrics.RecordBackendRequest(d.result.Status.String(), d.result.Latency.Seconds())

	switch d.result.Status {
	case whisper.StatusOk:
		s.deliver(d)
	case whisper.StatusBackendTimeout:
		s.logger.Warn("Segment dropped on backend timeout",
			slog.Duration("latency", d.result.Latency))
	case whisper.StatusBackendError:
		s.logger.Warn("Segment dropped on backend error",
			slog.Duration("latency", d.result.Latency))
	}

	// A flush condition may have fired while the call was outstanding
	if segment := s.segmenter.Resume(); segment != nil && s.State() == StateActive {
		s.dispatch(ctx, segment)
	}
}

// deliver writes one transcript message unless the filter or duplicate
// suppression drops it
func (s *Session) deliver(d dispatched) {
	language := d.result.Language
	if language == "" {
		language = d.language
	}

	if s.rules.ShouldSuppress(d.result.Text, language) {
		s.transcriptsFiltered.Add(1)
		s.metrics.RecordTranscriptSuppressed()
		s.logger.Debug("Transcript suppressed",
			slog.String("text", d.result.Text),
			slog.String("language", language))
		return
	}

	if s.lastTranscript[d.participantID] == d.result.Text {
		s.transcriptsFiltered.Add(1)
		s.metrics.RecordTranscriptSuppressed()
		s.logger.Debug("Duplicate transcript suppressed",
			slog.String("participant_id", d.participantID))
		return
	}
	s.lastTranscript[d.participantID] = d.result.Text

	msg := protocol.NewFinalTranscript(d.participantID, d.result.Text, language)
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode transcript",
			slog.String("error", err.Error()))
		return
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to deliver transcript",
			slog.String("error", err.Error()))
		return
	}

	s.transcriptsDelivered.Add(1)
	s.metrics.RecordTranscriptDelivered()
}

// shutdown handles server-initiated close: let an in-flight backend call
// finish within the grace period, force-flush audio still buffered if grace
// time remains, then close the connection politely. The whole sequence
// shares one grace deadline.
func (s *Session) shutdown() {
	s.setState(StateClosing)

	graceOver := time.Now().Add(s.config.ShutdownGrace)

	if s.inFlight {
		select {
		case d := <-s.results:
			s.inFlight = false
			if d.result.Status == whisper.StatusOk {
				s.deliver(d)
			}
		case <-time.After(time.Until(graceOver)):
			s.logger.Warn("Abandoning in-flight backend call at shutdown")
		}
	}

	// One forced flush for the remaining buffer, preserving the single
	// outstanding call invariant
	if !s.inFlight && time.Until(graceOver) > 0 {
		if segment := s.segmenter.Flush(); segment != nil {
			s.dispatch(context.Background(), segment)
			select {
			case d := <-s.results:
				s.inFlight = false
				if d.result.Status == whisper.StatusOk {
					s.deliver(d)
				}
			case <-time.After(time.Until(graceOver)):
				s.logger.Warn("Abandoning final flush at shutdown")
			}
		}
	}

	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
}

// teardown releases session resources. Audio still buffered after a client
// disconnect is discarded; there is no peer left to deliver to.
func (s *Session) teardown(readErr error) {
	s.conn.Close()
	s.setState(StateClosed)

	duration := time.Since(s.createdAt)
	s.metrics.RecordSessionClosed(duration.Seconds())

	attrs := []any{
		slog.Duration("duration", duration),
		slog.Uint64("frames", s.framesReceived.Load()),
		slog.Uint64("segments", s.segmenter.SegmentsEmitted()),
		slog.Uint64("transcripts", s.transcriptsDelivered.Load()),
		slog.Uint64("suppressed", s.transcriptsFiltered.Load()),
	}
	if readErr != nil && !websocket.IsCloseError(readErr,
		websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		attrs = append(attrs, slog.String("close_reason", readErr.Error()))
	}
	s.logger.Info("Session closed", attrs...)
}

// Info is a monitoring snapshot of one session
type Info struct {
	ID                   string    `json:"id"`
	MeetingID            string    `json:"meeting_id"`
	State                string    `json:"state"`
	Language             string    `json:"language"`
	CreatedAt            time.Time `json:"created_at"`
	UptimeSeconds        float64   `json:"uptime_seconds"`
	FramesReceived       uint64    `json:"frames_received"`
	MalformedFrames      uint64    `json:"malformed_frames"`
	TranscriptsDelivered uint64    `json:"transcripts_delivered"`
	TranscriptsFiltered  uint64    `json:"transcripts_filtered"`
}

// GetInfo returns a snapshot for the monitoring API
func (s *Session) GetInfo() Info {
	s.streamMu.Lock()
	language := s.language
	s.streamMu.Unlock()

	return Info{
		ID:                   s.ID,
		MeetingID:            s.MeetingID,
		State:                s.State().String(),
		Language:             language,
		CreatedAt:            s.createdAt,
		UptimeSeconds:        time.Since(s.createdAt).Seconds(),
		FramesReceived:       s.framesReceived.Load(),
		MalformedFrames:      s.malformedFrames.Load(),
		TranscriptsDelivered: s.transcriptsDelivered.Load(),
		TranscriptsFiltered:  s.transcriptsFiltered.Load(),
	}
}
