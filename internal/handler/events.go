package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atelierhq/piece-market/internal/notifier"
)

// EventsHandler streams piece status changes to browsers over
// server-sent events, one subscription per collection.  The stream is a
// convenience, not a source of truth: delivery is at most once, and a
// client that reconnects re-fetches the collection before trusting the
// stream again.
type EventsHandler struct {
	Hub *notifier.Hub
	// Heartbeat keeps intermediaries from closing idle streams.
	Heartbeat time.Duration
}

// NewEventsHandler constructs an EventsHandler with a 25s heartbeat.
func NewEventsHandler(hub *notifier.Hub) *EventsHandler {
	if hub == nil {
		panic("nil hub passed to NewEventsHandler")
	}
	return &EventsHandler{Hub: hub, Heartbeat: 25 * time.Second}
}

// Stream handles GET /v1/collections/:id/events.  Each event is one SSE
// frame whose data is the JSON {piece_id, collection_id, status,
// occurred_at} payload.  The stream ends when the client disconnects.
func (h *EventsHandler) Stream(c echo.Context) error {
	collectionID := c.Param("id")
	if collectionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid collection id"})
	}

	events, cancel := h.Hub.Subscribe(collectionID)
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-store")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: piece-status\ndata: %s\n\n", payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
