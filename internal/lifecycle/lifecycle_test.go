package lifecycle_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/lifecycle"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func TestHandleCreateBindsWaitingSSRCAndRegistersContainer(t *testing.T) {
	t.Parallel()

	c := lifecycle.New(xlog.New("test"), nil)
	c.HandleCreate(events.CreateEvent{
		Envelope: events.Envelope{ChanID: "chan-1", CallID: "call-1", EventTime: time.Now().Format(time.RFC3339)},
		Info:     events.CreateInfo{EMHost: "10.0.0.1", EMPort: 5000},
	})

	chanID, ok := c.BindWaitingSSRC("10.0.0.1:5000", "42@10.0.0.1:5000")
	require.True(t, ok)
	assert.Equal(t, "chan-1", chanID)

	_, ok = c.Container("chan-1")
	assert.True(t, ok)
}

func TestHandleProgressReturnsFalseForUnknownChanID(t *testing.T) {
	t.Parallel()

	c := lifecycle.New(xlog.New("test"), nil)
	ok := c.HandleProgress(events.ProgressEvent{Envelope: events.Envelope{ChanID: "missing"}})
	assert.False(t, ok)
}

func TestHandleDestroyMarksContainerDestroyed(t *testing.T) {
	t.Parallel()

	c := lifecycle.New(xlog.New("test"), nil)
	c.HandleCreate(events.CreateEvent{
		Envelope: events.Envelope{ChanID: "chan-1", CallID: "call-1", EventTime: time.Now().Format(time.RFC3339)},
		Info:     events.CreateInfo{EMHost: "10.0.0.1", EMPort: 5000},
	})

	ok := c.HandleDestroy(events.DestroyEvent{Envelope: events.Envelope{ChanID: "chan-1"}})
	require.True(t, ok)

	ct, ok := c.Container("chan-1")
	require.True(t, ok)
	assert.True(t, ct.Destroyed())
}

func TestNotifyMatchRoutesToTheCreatedCallbackAddress(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c := lifecycle.New(xlog.New("test"), nil)
	c.HandleCreate(events.CreateEvent{
		Envelope: events.Envelope{ChanID: "chan-1", CallID: "call-1", EventTime: time.Now().Format(time.RFC3339)},
		Info: events.CreateInfo{
			EMHost:       "10.0.0.1",
			EMPort:       5000,
			CallbackHost: u.Hostname(),
			CallbackPort: port,
		},
	})

	err = c.NotifyMatch(context.Background(), "chan-1", "call-1", "ivr-beep")
	require.NoError(t, err)

	select {
	case path := <-received:
		assert.Equal(t, "/callsentry/detect", path)
	case <-time.After(2 * time.Second):
		t.Fatal("callback server never received the notify request")
	}
}

func TestNotifyMatchFailsForUnknownChanID(t *testing.T) {
	t.Parallel()

	c := lifecycle.New(xlog.New("test"), nil)
	err := c.NotifyMatch(context.Background(), "missing", "call-1", "ivr-beep")
	assert.Error(t, err)
}
