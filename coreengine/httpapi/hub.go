package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

const (
	clientBuffer = 64
	writeTimeout = 2 * time.Second
)

// ActivityEvent is one message on the activity stream.
type ActivityEvent struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Envelope *envelope.Envelope `json:"envelope"`
}

// ActivitySource supplies the recent routing log replayed to new clients.
type ActivitySource interface {
	RecentActivity(limit int) []*envelope.Envelope
}

type hubClient struct {
	events chan ActivityEvent
}

// ActivityHub fans routed envelopes out to websocket clients.
//
// Publish never blocks the router: every client has a bounded buffer and
// events for a client whose buffer is full are dropped.
type ActivityHub struct {
	history ActivitySource
	replay  int
	logger  Logger

	clients   map[*hubClient]struct{}
	seq       atomic.Uint64
	dropped   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewActivityHub creates a hub. New clients first receive up to replay
// envelopes from history; a nil history disables replay.
func NewActivityHub(history ActivitySource, replay int, logger Logger) *ActivityHub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ActivityHub{
		history: history,
		replay:  replay,
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Close disconnects every client and refuses new ones.
func (h *ActivityHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *ActivityHub) event(env *envelope.Envelope) ActivityEvent {
	return ActivityEvent{
		ID:       fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:     "activity",
		Envelope: env,
	}
}

// Publish queues env for every connected client. Its signature matches
// commbus.ActivityListener.
func (h *ActivityHub) Publish(env *envelope.Envelope) {
	ev := h.event(env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.events <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *ActivityHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *ActivityHub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *ActivityHub) add() *hubClient {
	c := &hubClient{events: make(chan ActivityEvent, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *ActivityHub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// HandleWS upgrades the request and streams events until the client goes
// away. Client messages are ignored.
func (h *ActivityHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "activity stream closed", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket_accept_failed", "error", err.Error())
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Register before replaying so nothing routed in between is lost.
	client := h.add()
	defer h.remove(client)
	h.logger.Debug("websocket_client_connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())

	if h.history != nil && h.replay > 0 {
		for _, env := range h.history.RecentActivity(h.replay) {
			if err := h.write(ctx, conn, h.event(env)); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("websocket_client_disconnected", "remote", r.RemoteAddr)
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case ev := <-client.events:
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket_write_failed", "error", err.Error())
				return
			}
		}
	}
}

func (h *ActivityHub) write(ctx context.Context, conn *websocket.Conn, ev ActivityEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
