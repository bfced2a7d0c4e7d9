// Package container implements the Audio Container: per-call timeline
// reconstruction, sequence-wrap correction, acoustic-event markers, and
// WAV byte accumulation, one instance per bound media flow.
package container

import (
	"sort"
	"sync"
	"time"

	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/rtppacket"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

// Sentinel values mirroring original_source/src/audio_container.py's
// CODE_* constants.
const (
	CodeAwait    = -1
	CodeNotFound = 0
)

// Acoustic thresholds, per spec.md §4.4's 8 kHz defaults (AmpBeep differs
// from original_source's own config constant; the written spec's explicit
// value wins, see DESIGN.md).
const (
	AmpBeep                  = 2000
	AmpVoice                 = 250
	AmpNoise                 = 100
	MinAmplitudeForDetection = 2000
	SeqNumberAfterFirstReset = 65535
	DefaultSampleWidth       = 2
	DefaultSampleRate        = 8000
)

// SecondsForAbsoluteSilence is how long a channel must run with no beep,
// voice, or post-answer noise marker before it is classified as absolute
// silence.
const SecondsForAbsoluteSilence = 30 * time.Second

// Container holds all per-call state for one bound media flow. Fields are
// protected by mu because both the dispatcher (appending packets) and the
// container's own background loop (parsing, markers) touch them, the same
// shared-state-plus-mutex idiom the teacher's Session type uses.
type Container struct {
	ChanID string
	CallID string
	EMHost string
	EMPort int
	EMSSRC int64

	EventCreate  events.CreateInfo
	EventProgress *events.ProgressInfo
	EventAnswer   *events.AnswerInfo
	EventsDetect  []events.DetectInfo
	EventDestroy  *events.DestroyInfo

	log     *xlog.Logger
	metrics *metrics.Metrics

	mu sync.Mutex

	pendingPackages []*rtppacket.Packet

	analyzedSamples map[int][]int16
	bytesSamples    map[int][]byte
	maxAmpSamples   map[int]int16
	minAmpSamples   map[int]int16

	detectUntilTime time.Time
	breakWhileTime  time.Time
	timeFirstPkt    time.Time
	timeLastPkt     time.Time

	durationStream      float64
	durationCheckDetect time.Duration
	numberResetsSeq     int
	payloadLength       int
	seqNumFirstPackage  int
	seqNumLastPackage   int

	seqNumAnswerPackage       int
	seqNumFirstBeep           int
	seqNumNoiseAfterAnswer    int
	seqNumVoiceBeforeAnswer   int
	ampADCNoise               int
	foundFirstNoise           int
	absoluteSilence           bool

	lastDetectSeqNum int
	foundTemplates   string

	destroyed bool
	started   bool

	createEventTime time.Time

	onFinished OnFinished

	done chan struct{}
}

// New constructs a Container for a freshly bound media flow. Grounded on
// original_source/src/audio_container.py's AudioContainer.__init__.
// createEventTime is the CREATE event's own event_time, used later to
// compute seq_num_answer_package from the ANSWER event's event_time.
func New(chanID, callID, emHost string, emPort int, create events.CreateInfo, createEventTime time.Time, log *xlog.Logger, m *metrics.Metrics) *Container {
	now := time.Now()
	return &Container{
		ChanID:          chanID,
		CallID:          callID,
		EMHost:          emHost,
		EMPort:          emPort,
		EMSSRC:          CodeAwait,
		EventCreate:     create,
		createEventTime: createEventTime,
		log:             log,
		metrics:         m,

		analyzedSamples: make(map[int][]int16),
		bytesSamples:    make(map[int][]byte),
		maxAmpSamples:   make(map[int]int16),
		minAmpSamples:   make(map[int]int16),

		detectUntilTime: now.Add(2 * time.Minute),
		breakWhileTime:  now.Add(90 * time.Minute),

		payloadLength:      CodeAwait,
		seqNumFirstPackage: CodeAwait,
		seqNumLastPackage:  CodeAwait,

		seqNumAnswerPackage:     CodeAwait,
		seqNumFirstBeep:         CodeAwait,
		seqNumNoiseAfterAnswer:  CodeAwait,
		seqNumVoiceBeforeAnswer: CodeAwait,
		ampADCNoise:             CodeAwait,

		done: make(chan struct{}),
	}
}

// SampleWidth returns the configured sample width, defaulting to the
// 16-bit width this system is tuned for.
func (c *Container) SampleWidth() int {
	if c.EventCreate.EMSampleWidth != 0 {
		return c.EventCreate.EMSampleWidth
	}
	return DefaultSampleWidth
}

// SampleRate returns the configured sample rate, defaulting to 8 kHz.
func (c *Container) SampleRate() int {
	if c.EventCreate.EMSampleRate != 0 {
		return c.EventCreate.EMSampleRate
	}
	return DefaultSampleRate
}

// durationOneSample is the wall-clock duration one RTP payload represents.
func (c *Container) durationOneSample() float64 {
	if c.payloadLength <= 0 {
		return 0
	}
	return float64(c.payloadLength) / float64(c.SampleWidth()) / float64(c.SampleRate())
}

// AppendPackage records an inbound packet for later batch parsing and, on
// the very first packet, starts the container's background loop. Grounded
// on append_package_for_analyse.
func (c *Container) AppendPackage(p *rtppacket.Packet) {
	c.mu.Lock()
	c.timeLastPkt = time.Now()
	c.pendingPackages = append(c.pendingPackages, p)

	first := c.seqNumFirstPackage == CodeAwait
	if first {
		c.log.Printf("add first package: %d", p.SeqNum)
		c.seqNumFirstPackage = int(p.SeqNum)
		c.seqNumLastPackage = int(p.SeqNum)
		c.timeFirstPkt = time.Now()
		c.payloadLength = len(p.Payload)
	}
	c.mu.Unlock()

	if first {
		c.start()
	}
}

// AddEventProgress stores a PROGRESS event.
func (c *Container) AddEventProgress(e events.ProgressInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventProgress = &e
}

// AddEventAnswer stores an ANSWER event, tightens detect_until_time, and
// computes seq_num_answer_package from the wall-clock gap between the
// CREATE and ANSWER events' own event_time fields, divided by the
// per-sample duration. Grounded on add_event_answer.
func (c *Container) AddEventAnswer(e events.AnswerInfo, answerEventTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventAnswer = &e

	now := time.Now()
	if now.Before(c.detectUntilTime) {
		c.detectUntilTime = now.Add(15 * time.Second)
	}

	durationBeforeAnswer := answerEventTime.Sub(c.createEventTime).Seconds()
	oneSample := c.durationOneSample()
	if oneSample > 0 {
		numberSamples := durationBeforeAnswer / oneSample
		c.seqNumAnswerPackage = c.seqNumFirstPackage + int(numberSamples)
	}
}

// AddEventDetect pushes a DETECT event and ends template detection for
// this container by pulling detect_until_time to now.
func (c *Container) AddEventDetect(e events.DetectInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Before(c.detectUntilTime) {
		c.detectUntilTime = now
	}
	c.EventsDetect = append(c.EventsDetect, e)
}

// AddEventDestroy stores a DESTROY event and tightens break_while_time so
// the background loop winds down within 5 seconds.
func (c *Container) AddEventDestroy(e events.DestroyInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EventDestroy = &e
	c.breakWhileTime = time.Now().Add(5 * time.Second)
	c.destroyed = true
}

// AddFoundTemplate records the first accepted match, closing detection for
// this container. Once found_templates is non-empty later calls leave it
// unchanged, so concurrent matches for the same container keep the first
// writer's result; the detector also skips containers with a non-empty
// FoundTemplates.
func (c *Container) AddFoundTemplate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.foundTemplates != "" {
		return
	}
	c.log.Printf("found template with name=%s", name)
	c.detectUntilTime = time.Now()
	c.foundTemplates = name
}

// FoundTemplates returns the accepted template name, or "" if none yet.
func (c *Container) FoundTemplates() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foundTemplates
}

// Destroyed reports whether a DESTROY event has been recorded.
func (c *Container) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// IsAbsoluteSilence reports whether the channel has run for
// SecondsForAbsoluteSilence with no beep, voice, or post-answer noise
// marker and no sample above AmpNoise. Grounded on
// original_source/src/audio_packages.py's find_absolute_silence, which
// leaves the silence-duration check as an unimplemented TODO; this fills
// it in using the file's own SECONDS_FOR_ABSOLUTE_SILENCE constant.
func (c *Container) IsAbsoluteSilence() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.absoluteSilence
}

// Done signals when the background parse loop has exited.
func (c *Container) Done() <-chan struct{} {
	return c.done
}

// DetectionWindow collects the admission state and, if admitted, the last
// 150 samples' amplitudes as a single flat window, per spec.md §4.6's
// prepare loop admission rule. It stamps last_detect_seq_num as a side
// effect of admission, exactly like run_prepare_amplitude.
func (c *Container) DetectionWindow() ([]int16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, false
	}
	if c.foundTemplates != "" {
		return nil, false
	}
	if c.foundFirstNoise == 0 {
		return nil, false
	}
	if c.durationStream <= 2 {
		return nil, false
	}
	if time.Now().After(c.detectUntilTime) {
		return nil, false
	}
	if c.seqNumLastPackage == c.lastDetectSeqNum {
		return nil, false
	}

	seqNums := make([]int, 0, len(c.analyzedSamples))
	for seq := range c.analyzedSamples {
		seqNums = append(seqNums, seq)
	}
	sort.Ints(seqNums)
	if len(seqNums) > 150 {
		seqNums = seqNums[len(seqNums)-150:]
	}

	var window []int16
	var maxAmp int16
	for _, seq := range seqNums {
		amps := c.analyzedSamples[seq]
		window = append(window, amps...)
		for _, a := range amps {
			if a > maxAmp {
				maxAmp = a
			}
		}
	}

	c.lastDetectSeqNum = c.seqNumLastPackage

	if maxAmp < MinAmplitudeForDetection {
		return nil, false
	}

	return window, true
}

// BytesSamplesSnapshot copies the accumulated per-sequence WAV sample
// bytes in sequence order, ready for a WAV writer.
func (c *Container) BytesSamplesSnapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seqNumLastPackage == CodeAwait {
		return nil
	}

	out := make([][]byte, 0, len(c.bytesSamples))
	for seq := c.seqNumFirstPackage; seq <= c.seqNumLastPackage; seq++ {
		if b, ok := c.bytesSamples[seq]; ok {
			out = append(out, b)
		}
	}
	return out
}

// SaveRecord reports whether the CREATE event asked for a WAV recording.
func (c *Container) SaveRecord() bool {
	return c.EventCreate.SaveRecord == 1
}

// SaveFormat is the configured output container format, defaulting to wav.
func (c *Container) SaveFormat() string {
	if c.EventCreate.SaveFormat == "" {
		return "wav"
	}
	return c.EventCreate.SaveFormat
}
