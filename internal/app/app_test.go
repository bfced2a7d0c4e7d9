package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/app"
	"github.com/chuffdetect/callsentry/internal/config"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func TestNewWiresEveryComponentAndRunRespectsCancellation(t *testing.T) {
	cfg := config.Config{
		AppAPIHost:           "127.0.0.1",
		AppAPIPort:           0,
		WaitShutdown:         1,
		AppUnicastHost:       "127.0.0.1",
		AppUnicastPort:       0,
		AppUnicastBufferSize: 0,
		TemplateFolderPath:   t.TempDir(), // empty folder: zero templates loaded, not an error
		RecordsFolderPath:    t.TempDir(),
	}

	a, err := app.New(cfg, xlog.New("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not shut down promptly after context cancellation")
	}
}
