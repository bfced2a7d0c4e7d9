package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

func newTestContainer() *Container {
	now := time.Now()
	c := New("chan-1", "call-1", "10.0.0.1", 5000, events.CreateInfo{}, now, xlog.New("test"), nil)
	c.maxAmpSamples = make(map[int]int16)
	c.minAmpSamples = make(map[int]int16)
	c.analyzedSamples = make(map[int][]int16)
	c.seqNumFirstPackage = 0
	c.seqNumLastPackage = 0
	return c
}

func TestFindSeqNumFirstBeepFindsFirstAboveThreshold(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = 50
	c.maxAmpSamples[1] = AmpBeep + 1
	c.maxAmpSamples[2] = AmpBeep + 500

	c.findSeqNumFirstBeep()
	assert.Equal(t, 1, c.seqNumFirstBeep)
}

func TestFindSeqNumFirstBeepGivesUpOnceAnswered(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = 50
	c.seqNumAnswerPackage = 0

	c.findSeqNumFirstBeep()
	assert.Equal(t, CodeNotFound, c.seqNumFirstBeep)
}

func TestFindSeqNumNoiseAfterAnswerRequiresRunOfHits(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.EventAnswer = &events.AnswerInfo{}
	c.seqNumAnswerPackage = 0

	c.maxAmpSamples[0] = AmpNoise + 10
	c.maxAmpSamples[1] = AmpNoise + 10
	c.maxAmpSamples[2] = AmpNoise + 10

	c.findSeqNumNoiseAfterAnswer()
	assert.Equal(t, 2, c.seqNumNoiseAfterAnswer)
}

func TestFindSeqNumNoiseAfterAnswerIgnoresSamplesBeforeAnswer(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.EventAnswer = &events.AnswerInfo{}
	c.seqNumAnswerPackage = 5

	c.maxAmpSamples[0] = AmpNoise + 10
	c.maxAmpSamples[1] = AmpNoise + 10
	c.maxAmpSamples[2] = AmpNoise + 10

	c.findSeqNumNoiseAfterAnswer()
	assert.Equal(t, CodeAwait, c.seqNumNoiseAfterAnswer, "hits before the answer sequence must not count")
}

func TestFindSeqNumVoiceBeforeAnswerSkipsBeepRegion(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	for seq := 0; seq < 11; seq++ {
		c.maxAmpSamples[seq] = AmpBeep + 1
	}
	// A quiet sample right at the lockout boundary resets the beep run so
	// the final counter check doesn't re-extend the lockout to the end of
	// the call, then a voice-level sample just past it should be picked up.
	c.maxAmpSamples[60] = 10
	c.maxAmpSamples[61] = AmpVoice + 50
	c.seqNumLastPackage = 61

	c.findSeqNumVoiceBeforeAnswer()
	assert.Equal(t, 61, c.seqNumVoiceBeforeAnswer, "voice must not be reported inside the 50-seq beep lockout region")
}

func TestFindFirstNoiseFromBeepMarker(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.seqNumFirstBeep = 3

	c.findFirstNoise()
	assert.Equal(t, 1, c.foundFirstNoise)
}

func TestFindFirstNoiseFromSpreadAcrossSamples(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = AmpNoise + 200
	c.minAmpSamples[0] = 0
	c.maxAmpSamples[1] = AmpNoise + 200
	c.minAmpSamples[1] = 0

	c.findFirstNoise()
	assert.Equal(t, 1, c.foundFirstNoise)
}

func TestFindFirstNoiseStaysZeroOnQuietChannel(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = AmpNoise - 1

	c.findFirstNoise()
	assert.Zero(t, c.foundFirstNoise)
}

func TestFindAbsoluteSilenceRequiresElapsedTimeAndQuiet(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = AmpNoise - 1
	c.timeFirstPkt = time.Now().Add(-SecondsForAbsoluteSilence - time.Second)

	c.findAbsoluteSilence()
	assert.True(t, c.absoluteSilence)
}

func TestFindAbsoluteSilenceWaitsOutTheWindow(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = AmpNoise - 1
	c.timeFirstPkt = time.Now()

	c.findAbsoluteSilence()
	assert.False(t, c.absoluteSilence)
}

func TestFindAbsoluteSilenceNeverFiresOnceBeepSeen(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.seqNumFirstBeep = 5
	c.timeFirstPkt = time.Now().Add(-SecondsForAbsoluteSilence - time.Second)

	c.findAbsoluteSilence()
	assert.False(t, c.absoluteSilence)
}

func TestFindAbsoluteSilenceNeverFiresAboveNoiseFloor(t *testing.T) {
	t.Parallel()

	c := newTestContainer()
	c.maxAmpSamples[0] = AmpNoise + 1
	c.timeFirstPkt = time.Now().Add(-SecondsForAbsoluteSilence - time.Second)

	c.findAbsoluteSilence()
	assert.False(t, c.absoluteSilence)
}
