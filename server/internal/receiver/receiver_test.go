package receiver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/server/internal/auth"
	"github.com/obsidianstack/alertengine/server/internal/receiver"
	"github.com/obsidianstack/alertengine/server/internal/samples"
)

var now = time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

// startServer mounts a receiver behind the API key middleware.
func startServer(t *testing.T, key string) (*httptest.Server, *samples.Buffer) {
	t.Helper()
	buf := samples.NewBuffer(time.Hour)
	buf.SetNow(func() time.Time { return now })

	r := mux.NewRouter()
	r.Use(auth.APIKey("apikey", "x-api-key", key))
	receiver.New(buf).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, buf
}

func post(t *testing.T, srv *httptest.Server, ws, key, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/workspaces/"+ws+"/samples", strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

const validBody = `{"series":[
  {"metric":"error_rate","samples":[{"ts":"2026-03-01T12:03:00Z","value":0.08},{"ts":"2026-03-01T12:04:00Z","value":0.09}]},
  {"metric":"latency_p99","samples":[{"ts":"2026-03-01T12:04:00Z","value":310}]}
]}`

func TestPush_ValidKey_Stored(t *testing.T) {
	srv, buf := startServer(t, "secret")

	assert.Equal(t, http.StatusAccepted, post(t, srv, "acme", "secret", validBody))

	w, err := buf.Window(context.Background(), "acme", "error_rate", 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, w, 2)
	assert.Equal(t, 0.09, w[1].Value)
	assert.Equal(t, 2, buf.Len(), "two series")
}

func TestPush_InvalidKey_Rejected(t *testing.T) {
	srv, buf := startServer(t, "secret")
	assert.Equal(t, http.StatusUnauthorized, post(t, srv, "acme", "wrong", validBody))
	assert.Equal(t, http.StatusUnauthorized, post(t, srv, "acme", "", validBody))
	assert.Equal(t, 0, buf.Len())
}

func TestPush_Validation(t *testing.T) {
	srv, buf := startServer(t, "secret")
	cases := map[string]string{
		"not json":       `{`,
		"no series":      `{"series":[]}`,
		"missing metric": `{"series":[{"samples":[{"ts":"2026-03-01T12:04:00Z","value":1}]}]}`,
		"no samples":     `{"series":[{"metric":"m","samples":[]}]}`,
		"zero timestamp": `{"series":[{"metric":"m","samples":[{"value":1}]}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, post(t, srv, "acme", "secret", body))
		})
	}

	// One bad series rejects the whole request.
	mixed := `{"series":[{"metric":"ok","samples":[{"ts":"2026-03-01T12:04:00Z","value":1}]},{"metric":"","samples":[{"ts":"2026-03-01T12:04:00Z","value":1}]}]}`
	assert.Equal(t, http.StatusBadRequest, post(t, srv, "acme", "secret", mixed))
	assert.Equal(t, 0, buf.Len())
}
