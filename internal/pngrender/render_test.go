package pngrender_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/fingerprint"
	"github.com/chuffdetect/callsentry/internal/pngrender"
)

func twoHashFingerprint() *fingerprint.FingerPrint {
	params := fingerprint.DefaultParams8kHz()
	engine := fingerprint.New(params)
	n := params.SampleRate // 1s of tone gives plenty of spectrogram frames
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*900*float64(i)/float64(params.SampleRate)))
	}
	return engine.Fingerprint("query", samples)
}

func TestRenderWritesPNGUnderDateBucketedPath(t *testing.T) {
	t.Parallel()

	fp := twoHashFingerprint()
	var shared []string
	for h := range fp.HashOffsets {
		shared = append(shared, h)
		if len(shared) == 2 {
			break
		}
	}
	if len(shared) == 0 {
		t.Skip("fingerprint produced no hashes for this synthetic window")
	}

	dir := t.TempDir()
	at := time.Date(2026, 5, 9, 3, 0, 0, 0, time.UTC)

	err := pngrender.Render(dir, at, "chan-1", "ivr-beep", fp, shared, 12)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "2026", "05", "09", "03", "chan-1_ivr-beep.png")
	info, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRenderIsNoopWhenNoSharedHashesResolveToPoints(t *testing.T) {
	t.Parallel()

	fp := twoHashFingerprint()
	dir := t.TempDir()

	err := pngrender.Render(dir, time.Now(), "chan-1", "ivr-beep", fp, []string{"nonexistent-hash"}, 0)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file should be written when sharedHashes resolve to zero points")
}
