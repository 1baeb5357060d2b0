package incidentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/chainwatch/internal/incident"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type streamClient struct {
	send chan []byte
}

// streamHub fans incident lifecycle events out to connected websocket
// clients. Slow clients have their event dropped rather than stalling the
// publisher.
type streamHub struct {
	logger log.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func newStreamHub(logger log.Logger) *streamHub {
	return &streamHub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// publish implements incident.Subscriber.
func (h *streamHub) publish(ctx context.Context, ev incident.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error(ctx, err, "marshal stream event", "kind", ev.Kind)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// buffer full, drop for this client
		}
	}
}

func (h *streamHub) add(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		a.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{send: make(chan []byte, streamSendBuffer)}
	a.stream.add(client)

	done := make(chan struct{})

	// Reader exists only to observe the close handshake.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		a.stream.remove(client)
		_ = conn.Close()
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case payload := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
