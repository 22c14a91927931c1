package httpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"ws://10.0.0.5/ws", "http://10.0.0.5", false},
		{"wss://led.local:8443/ws?x=1", "https://led.local:8443", false},
		{"http://host:8080/", "http://host:8080", false},
		{"ftp://host", "", true},
	}
	for _, tt := range tests {
		got, err := BaseURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestClient(t *testing.T) {
	var posted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/json/info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"desk","leds":{"count":60}}`))
	})
	mux.HandleFunc("/json/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &posted)
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":3}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL)
	ctx := context.Background()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "desk", info["name"])

	_, err = c.State(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, c.SetState(ctx, map[string]any{"bri": 10}))
	assert.Equal(t, float64(10), posted["bri"])
}

func TestClientStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := New(ts.URL).Info(context.Background())
	assert.ErrorIs(t, err, ErrStatus)
}
