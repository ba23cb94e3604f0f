package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/http/usecases"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSessionBuffer = 64

var errSlowConsumer = errors.New("websocket client is not keeping up")

/*
Session. one websocket client following one trip. server pushes go through a buffered queue drained
by a single writer goroutine, so a slow client never blocks the trip pipeline: when the queue is
full the session is dropped. a nil message on the queue closes the session once everything before
it has been written.
*/
type Session struct {
	id     string
	tripID string
	conn   io.ReadWriteCloser

	// wmu serialises frames written by writeLoop and control replies written by Serve
	wmu sync.Mutex

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closed      bool
	unsubscribe func()

	hub *Hub
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) enqueue(msg []byte) {
	select {
	case <-s.done:
	case s.out <- msg:
	default:
		s.hub.log.Warn("dropping websocket session", zap.String("session_id", s.id), zap.Error(errSlowConsumer))
		s.hub.Remove(s)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if msg == nil {
				s.hub.Remove(s)
				return
			}
			s.wmu.Lock()
			err := wsutil.WriteServerMessage(s.conn, ws.OpText, msg)
			s.wmu.Unlock()
			if err != nil {
				s.hub.log.Debug("websocket write failed", zap.String("session_id", s.id), zap.Error(err))
				s.hub.Remove(s)
				return
			}
		}
	}
}

// Serve reads client frames until the client goes away or ctx is cancelled. Text frames are raw
// fixes for the session's trip.
func (s *Session) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.hub.Remove(s)
		case <-s.done:
		}
	}()

	for {
		hdr, r, err := wsutil.NextReader(s.conn, ws.StateServerSide)
		if err != nil {
			return s.readFailed(err)
		}
		if hdr.OpCode.IsControl() {
			if err := wsutil.ControlFrameHandler(lockedWriter{s}, ws.StateServerSide)(hdr, r); err != nil {
				return s.readFailed(err)
			}
			continue
		}

		msg, err := io.ReadAll(r)
		if err != nil {
			return s.readFailed(err)
		}
		if hdr.OpCode != ws.OpText {
			continue
		}

		var request fixRequest
		if err := json.Unmarshal(msg, &request); err != nil {
			s.enqueue(errorPayload(http.StatusBadRequest, "frame contains badly-formed JSON"))
			continue
		}
		if errFrame := s.hub.api.ingestWSFix(s.tripID, request); errFrame != nil {
			s.enqueue(errFrame)
		}
	}
}

// readFailed closes the session. A client close or our own shutdown is not an error.
func (s *Session) readFailed(err error) error {
	s.hub.Remove(s)
	var closed wsutil.ClosedError
	if errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	return err
}

type lockedWriter struct {
	s *Session
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.s.wmu.Lock()
	defer lw.s.wmu.Unlock()
	return lw.s.conn.Write(p)
}

// Hub tracks the open websocket sessions.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	api        *trackingAPI
	bufferSize int
	log        *zap.Logger
}

func NewHub(api *trackingAPI, log *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		api:        api,
		bufferSize: defaultSessionBuffer,
		log:        log,
	}
}

// Admit writes the error response for a websocket request on a trip that is not tracked.
func (h *Hub) Admit(w http.ResponseWriter, r *http.Request, tripID string) bool {
	if _, err := h.api.svc.Snapshot(tripID); err != nil {
		h.api.getStatusCode(w, r, err)
		return false
	}
	return true
}

// Register subscribes conn to every event of tripID. The session is closed after the trip ends.
func (h *Hub) Register(conn io.ReadWriteCloser, tripID string) (*Session, error) {
	s := &Session{
		id:     uuid.NewString(),
		tripID: tripID,
		conn:   conn,
		out:    make(chan []byte, h.bufferSize),
		done:   make(chan struct{}),
		hub:    h,
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	unsubscribe, err := h.api.svc.Subscribe(tripID, func(event string, data any) {
		msg, err := eventPayload(event, data)
		if err != nil {
			h.log.Error("failed to encode websocket event", zap.String("session_id", s.id), zap.Error(err))
			return
		}
		s.enqueue(msg)
		if event == usecases.EventTripEnded {
			s.enqueue(nil)
		}
	})
	if err != nil {
		h.mu.Lock()
		delete(h.sessions, s.id)
		h.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
	} else {
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
	}

	go s.writeLoop()
	return s, nil
}

func (h *Hub) Remove(s *Session) {
	s.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.sessions, s.id)
		h.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		close(s.done)
		_ = s.conn.Close()
		h.log.Info("websocket session closed", zap.String("session_id", s.id), zap.String("trip_id", s.tripID))
	})
}

func (h *Hub) RemoveAllUser() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.Remove(s)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
