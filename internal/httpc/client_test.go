package httpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient(0).Timeout)
	assert.Equal(t, 5*time.Second, NewClient(5*time.Second).Timeout)
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"), "header should be forwarded")

		var body map[string]string
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			assert.Equal(t, "halo", body["text"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("X-Api-Key", "secret")
	resp, err := PostJSON(context.Background(), NewClient(time.Second), server.URL, header, map[string]string{"text": "halo"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPostJSONUnmarshalable(t *testing.T) {
	_, err := PostJSON(context.Background(), NewClient(time.Second), "http://127.0.0.1:1", nil, make(chan int))
	assert.Error(t, err)
}
