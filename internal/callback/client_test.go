package callback_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/callback"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func newClientFor(t *testing.T, server *httptest.Server) *callback.Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return callback.New(u.Hostname(), port, xlog.New("test"), nil)
}

func TestNotifySucceedsOnFirstAcceptedStatus(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.NotEmpty(t, r.Header.Get("x-api-id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClientFor(t, server)
	err := client.Notify(context.Background(), "detect", "/callsentry/detect", map[string]string{"chan_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNotifyTreats404AsAccepted(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newClientFor(t, server)
	err := client.Notify(context.Background(), "detect", "/callsentry/detect", map[string]string{})
	assert.NoError(t, err)
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClientFor(t, server)
	err := client.Notify(context.Background(), "detect", "/callsentry/detect", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifyExhaustsRetriesAndReturnsError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClientFor(t, server)
	err := client.Notify(context.Background(), "detect", "/callsentry/detect", map[string]string{})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "must attempt exactly 3 times before giving up")
}
