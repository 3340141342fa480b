package reccobeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&core.RecoBeatConfig{
		BaseURL:        baseURL,
		RequestTimeout: time.Second,
	}, zap.NewNop())
}

func TestRecommendParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track/recommendation", r.URL.Path)
		assert.Equal(t, "s1,s2", r.URL.Query().Get("seeds"))
		assert.Equal(t, "10", r.URL.Query().Get("size"))
		assert.Equal(t, "n1", r.URL.Query().Get("negativeSeeds"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": [
			{
				"id": "rb-1",
				"href": "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc",
				"trackTitle": "Never Gonna Give You Up",
				"artists": [{"name": "Rick Astley"}],
				"popularity": 80,
				"releaseDate": "1987-07-27"
			},
			{
				"id": "rb-2",
				"href": "",
				"trackTitle": "Unknown Link",
				"artists": [{"name": "A"}, {"name": "B"}],
				"popularity": 10,
				"releaseDate": ""
			}
		]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	tracks, err := c.Recommend(context.Background(), []string{"s1", "s2"}, []string{"n1"}, 10)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "4uLU6hMCjMI75M1A2tKUQC", tracks[0].ID, "track ID comes from the href")
	assert.Equal(t, "Never Gonna Give You Up", tracks[0].Name)
	assert.Equal(t, []string{"Rick Astley"}, tracks[0].Artists)
	assert.Equal(t, 1987, tracks[0].ReleaseYear)

	assert.Equal(t, "rb-2", tracks[1].ID, "missing href falls back to the API ID")
	assert.Equal(t, []string{"A", "B"}, tracks[1].Artists)
	assert.Equal(t, 0, tracks[1].ReleaseYear)
}

func TestRecommendRequiresSeeds(t *testing.T) {
	c := newTestClient("http://localhost:0")
	_, err := c.Recommend(context.Background(), nil, nil, 10)
	require.Error(t, err)
}

func TestRecommendTruncatesSeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1,s2,s3,s4,s5", r.URL.Query().Get("seeds"))
		_, _ = w.Write([]byte(`{"content": []}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Recommend(context.Background(),
		[]string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"}, nil, 5)
	require.NoError(t, err)
}

func TestRecommendStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   core.Kind
	}{
		{http.StatusTooManyRequests, core.KindRetryable},
		{http.StatusBadGateway, core.KindRetryable},
		{http.StatusBadRequest, core.KindFatal},
		{http.StatusNotFound, core.KindFatal},
	}
	for _, c := range cases {
		status := c.status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		client := newTestClient(server.URL)
		_, err := client.Recommend(context.Background(), []string{"s1"}, nil, 5)
		require.Error(t, err)
		assert.Equal(t, c.want, core.KindOf(err), "status %d", c.status)

		server.Close()
	}
}

func TestRecommendMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Recommend(context.Background(), []string{"s1"}, nil, 5)
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaViolation, core.KindOf(err))
}
