package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipforge/clipforge/internal/generation"
	"github.com/clipforge/clipforge/internal/session"
)

const (
	eventBuffer     = 64
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

const (
	MessageState = "session.state"
	MessageFrame = "session.frame"
)

// EventMessage is one websocket frame. Job events reuse the reconciler's
// event type names.
type EventMessage struct {
	Type   string            `json:"type"`
	State  *session.State    `json:"state,omitempty"`
	Update *session.Update   `json:"update,omitempty"`
	Job    *generation.Event `json:"job,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isAllowedOrigin(origin)
	},
}

// eventsHandler streams playhead frames and the project's generation job
// events over a websocket.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error.
			cfg.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		projectID := s.ProjectID()
		stream := newEventStream(conn, cfg.Logger.With("project_id", projectID))

		unsubscribe := s.OnUpdate(func(u session.Update) {
			stream.send(EventMessage{Type: MessageFrame, Update: &u})
		})
		defer unsubscribe()

		if cfg.Reconciler != nil {
			unsubscribeJobs := cfg.Reconciler.OnEvent(func(e generation.Event) {
				if e.ProjectID == projectID {
					stream.send(EventMessage{Type: string(e.Type), Job: &e})
				}
			})
			defer unsubscribeJobs()
		}

		state := s.State()
		stream.send(EventMessage{Type: MessageState, State: &state})
		stream.run()
	}
}

type eventStream struct {
	conn    *websocket.Conn
	out     chan EventMessage
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	logger  *slog.Logger
}

func newEventStream(conn *websocket.Conn, logger *slog.Logger) *eventStream {
	return &eventStream{
		conn:   conn,
		out:    make(chan EventMessage, eventBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// send never blocks the publisher; a slow client loses messages.
func (s *eventStream) send(m EventMessage) {
	if s.closed.Load() {
		return
	}
	select {
	case s.out <- m:
	default:
		s.dropped.Add(1)
	}
}

// run pumps messages until the client goes away, then closes the socket.
func (s *eventStream) run() {
	go s.readLoop()

	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		s.closed.Store(true)
		s.conn.Close()
		if n := s.dropped.Load(); n > 0 {
			s.logger.Info("event stream closed", "dropped", n)
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case m := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := s.conn.WriteJSON(m); err != nil {
				s.logger.Debug("event write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and signals done when the peer closes.
func (s *eventStream) readLoop() {
	defer close(s.done)
	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
