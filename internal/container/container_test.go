package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func TestAddEventAnswerComputesSeqNumFromElapsedTime(t *testing.T) {
	t.Parallel()

	createTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{EMSampleRate: 8000, EMSampleWidth: 2}, createTime, xlog.New("test"), nil)
	c.payloadLength = 320 // 160 samples/packet at 2 bytes/sample
	c.seqNumFirstPackage = 100

	answerTime := createTime.Add(2 * time.Second)
	c.AddEventAnswer(events.AnswerInfo{}, answerTime)

	require.NotNil(t, c.EventAnswer)
	// duration_one_sample = 320/2/8000 = 0.02s; 2s / 0.02s = 100 samples.
	assert.Equal(t, 200, c.seqNumAnswerPackage)
}

func TestAddEventAnswerCompressesDetectUntilTime(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
	before := c.detectUntilTime

	c.AddEventAnswer(events.AnswerInfo{}, time.Now())
	assert.True(t, c.detectUntilTime.Before(before), "ANSWER must compress detect_until_time to +15s")
}

func TestAddEventDestroyTightensBreakWhileTimeAndMarksDestroyed(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)

	c.AddEventDestroy(events.DestroyInfo{})
	assert.True(t, c.Destroyed())
	assert.WithinDuration(t, time.Now().Add(5*time.Second), c.breakWhileTime, time.Second)
}

func TestAddFoundTemplateIsStickyAndClosesDetection(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
	c.AddFoundTemplate("ivr-beep")
	assert.Equal(t, "ivr-beep", c.FoundTemplates())
	assert.False(t, c.detectUntilTime.After(time.Now()), "a found template must close the detection window")

	c.AddFoundTemplate("other-prompt")
	assert.Equal(t, "ivr-beep", c.FoundTemplates(), "a later match must not replace the first one")
}

func TestDetectionWindowRequiresFirstNoiseAndMinDuration(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
	_, ok := c.DetectionWindow()
	assert.False(t, ok, "a container with no noise detected yet must not admit a window")

	c.foundFirstNoise = 1
	c.durationStream = 2
	_, ok = c.DetectionWindow()
	assert.False(t, ok, "a stream of 2s or less must not admit a window")
}

func TestDetectionWindowAdmitsOnceAboveMinAmplitude(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
	c.foundFirstNoise = 1
	c.durationStream = 3
	c.seqNumLastPackage = 10
	c.seqNumFirstPackage = 0
	c.lastDetectSeqNum = -1
	for i := 0; i <= 10; i++ {
		c.analyzedSamples[i] = []int16{int16(MinAmplitudeForDetection + 1)}
	}

	window, ok := c.DetectionWindow()
	require.True(t, ok)
	assert.NotEmpty(t, window)

	// A second call with no new packets since must not re-admit.
	_, ok = c.DetectionWindow()
	assert.False(t, ok, "must not re-admit the same window twice")
}

func TestDetectionWindowRejectsBelowMinAmplitude(t *testing.T) {
	t.Parallel()

	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
	c.foundFirstNoise = 1
	c.durationStream = 3
	c.seqNumLastPackage = 5
	c.seqNumFirstPackage = 0
	c.lastDetectSeqNum = -1
	for i := 0; i <= 5; i++ {
		c.analyzedSamples[i] = []int16{10}
	}

	_, ok := c.DetectionWindow()
	assert.False(t, ok)
}
