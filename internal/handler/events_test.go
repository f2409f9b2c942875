package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/piece-market/internal/notifier"
	"github.com/atelierhq/piece-market/internal/queue"
)

// openStream connects to a running events handler and returns a line reader
// over the live response body.
func openStream(t *testing.T, h *EventsHandler, collectionID string) (*bufio.Scanner, func()) {
	t.Helper()
	e := echo.New()
	e.GET("/v1/collections/:id/events", h.Stream)
	srv := httptest.NewServer(e)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/collections/"+collectionID+"/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get(echo.HeaderContentType))

	stop := func() {
		cancel()
		res.Body.Close()
		srv.Close()
	}
	return bufio.NewScanner(res.Body), stop
}

func TestEventsHandler_StreamDeliversFrames(t *testing.T) {
	t.Parallel()

	hub := notifier.NewHub()
	h := NewEventsHandler(hub)
	h.Heartbeat = time.Hour // keep pings out of the frame we read

	sc, stop := openStream(t, h, "col-1")
	defer stop()

	// Publish until the subscription has landed; at-most-once delivery means
	// an event sent before Subscribe would simply be dropped.
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(context.Background(), queue.PieceStatusEvent{
				PieceID:      "p1",
				CollectionID: "col-1",
				Status:       "reserved",
				OccurredAt:   t0.Format(time.RFC3339),
			})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) == 2 {
			break
		}
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: piece-status", lines[0])
	assert.Contains(t, lines[1], `"piece_id":"p1"`)
	assert.Contains(t, lines[1], `"collection_id":"col-1"`)
	assert.Contains(t, lines[1], `"status":"reserved"`)
}

func TestEventsHandler_StreamHeartbeat(t *testing.T) {
	t.Parallel()

	h := NewEventsHandler(notifier.NewHub())
	h.Heartbeat = 5 * time.Millisecond

	sc, stop := openStream(t, h, "col-1")
	defer stop()

	require.True(t, sc.Scan())
	assert.Equal(t, ": ping", sc.Text())
}

func TestEventsHandler_StreamRejectsMissingCollection(t *testing.T) {
	t.Parallel()

	h := NewEventsHandler(notifier.NewHub())
	rec := get(t, h.Stream, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
