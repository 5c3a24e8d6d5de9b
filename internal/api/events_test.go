package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
)

type sseReader struct {
	t       *testing.T
	scanner *bufio.Scanner
}

// next returns the next event, skipping comments.
func (r *sseReader) next() (string, json.RawMessage) {
	r.t.Helper()
	var typ string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return typ, json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(r.t, r.scanner.Err())
	r.t.Fatal("stream ended")
	return "", nil
}

func TestStreamFeed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.hub.PublishFeed(pipeline.FeedUpdate{Seq: 1, CameraName: "north"})

	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/feed", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := &sseReader{t: t, scanner: bufio.NewScanner(resp.Body)}
	typ, data := events.next()
	require.Equal(t, "init", typ)
	var init struct {
		IsRunning bool                `json:"is_running"`
		Config    config.TuningConfig `json:"config"`
		Feed      pipeline.FeedUpdate `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(data, &init))
	assert.True(t, init.IsRunning)
	assert.Equal(t, 60.0, *init.Config.SpeedLimitKmh)
	assert.Equal(t, uint64(1), init.Feed.Seq)

	env.hub.PublishFeed(pipeline.FeedUpdate{Seq: 2})
	typ, data = events.next()
	require.Equal(t, "feed", typ)
	var u pipeline.FeedUpdate
	require.NoError(t, json.Unmarshal(data, &u))
	assert.Equal(t, uint64(2), u.Seq)

	limit := 45.0
	_, err = env.store.Apply(&config.TuningConfig{SpeedLimitKmh: &limit})
	require.NoError(t, err)
	typ, data = events.next()
	require.Equal(t, "config_update", typ)
	var changed config.TuningConfig
	require.NoError(t, json.Unmarshal(data, &changed))
	assert.Equal(t, 45.0, *changed.SpeedLimitKmh)

	refresh, err := srv.Client().Post(srv.URL+"/api/location/refresh", "application/json", nil)
	require.NoError(t, err)
	refresh.Body.Close()
	typ, _ = events.next()
	assert.Equal(t, "location_update", typ)

	cancel()
	require.Eventually(t, func() bool { return env.hub.Stats().Subscribers == 0 }, 5*time.Second, 5*time.Millisecond,
		"viewer is unsubscribed when the client goes away")
}

func TestEventBusDropsForSlowViewer(t *testing.T) {
	t.Parallel()
	b := newEventBus()
	id, ch := b.subscribe()
	for i := 0; i < 10; i++ {
		b.publish(sseEvent{Type: "config_update", Data: i})
	}
	assert.Len(t, ch, cap(ch))
	b.unsubscribe(id)
	b.unsubscribe(id)
	b.publish(sseEvent{Type: "config_update"})
}
