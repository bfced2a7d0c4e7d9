package xlog_test

import (
	"bufio"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/xlog"
)

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(bufio.NewReader(r))
	require.NoError(t, err)
	return string(out)
}

func TestWithAppendsIdentifierToTag(t *testing.T) {
	t.Parallel()

	out := captureStderr(t, func() {
		log := xlog.New("container").With("chan-1")
		log.Printf("hello %s", "world")
	})

	assert.Contains(t, out, "[container chan-1] hello world")
}

func TestDebugfIsSilentUntilEnabled(t *testing.T) {
	out := captureStderr(t, func() {
		log := xlog.New("test")
		log.Debugf("should not appear")
	})
	assert.False(t, strings.Contains(out, "should not appear"))

	xlog.SetDebug(true)
	defer xlog.SetDebug(false)

	out = captureStderr(t, func() {
		log := xlog.New("test")
		log.Debugf("now visible")
	})
	assert.Contains(t, out, "now visible")
}
