package httpgin

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/evreg/internal/service"
)

// Hub fans "event changed" signals out to the open availability streams of
// this instance. A slow subscriber only ever has one pending signal.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan struct{}]struct{}),
		done: make(chan struct{}),
	}
}

// Close ends every open stream. http.Server.Shutdown does not cancel
// request contexts, so it must be called before shutting the server down.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Subscribe(eventID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[chan struct{}]struct{})
	}
	h.subs[eventID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.subs[eventID], ch)
		if len(h.subs[eventID]) == 0 {
			delete(h.subs, eventID)
		}
	}
}

// Notify matches the handler signature of the Redis events pub/sub.
func (h *Hub) Notify(_ context.Context, eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[eventID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) subscribers(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs[eventID])
}

const streamHeartbeat = 15 * time.Second

// @Summary  Stream availability (server-sent events)
// @Param    id  path  string  true  "Event ID"
// @Success  200  {object}  AvailabilityResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability/stream [get]
func handleAvailabilityStream(svcs *service.Services, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := c.Param("id")
		ctx := c.Request.Context()

		av, err := svcs.Query.Availability(ctx, eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		select {
		case <-hub.done:
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "shutting down"})
			return
		default:
		}

		updates, unsubscribe := hub.Subscribe(eventID)
		defer unsubscribe()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("availability", toAvailabilityResponse(av))
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-hub.done:
				return false
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case <-updates:
				av, err := svcs.Query.Availability(ctx, eventID)
				if err != nil {
					c.SSEvent("error", ErrorResponse{Error: http.StatusText(http.StatusServiceUnavailable)})
					return false
				}
				c.SSEvent("availability", toAvailabilityResponse(av))
				return true
			}
		})
	}
}
