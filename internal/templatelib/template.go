// Package templatelib loads prompt/beep templates from a folder of WAV
// files and builds the inverted hash index the detector matches against.
package templatelib

import (
	"github.com/chuffdetect/callsentry/internal/fingerprint"
)

// Template is one loaded prompt, with its computed fingerprint cached for
// the lifetime of the process (templates are load-once, per spec.md §4.5's
// "Template Library" — no online learning).
type Template struct {
	ID          int
	Name        string
	SampleRate  int
	Amplitudes  []int16
	Fingerprint *fingerprint.FingerPrint
}

// trimLeadingSilence mirrors the original loader's two-pass trim: drop
// leading non-positive samples, then drop low-amplitude samples (<= 350)
// until a louder one is found, matching original_source's
// Template.__init__ so template fingerprints line up with callers that
// trimmed their recordings the same way.
func trimLeadingSilence(amplitudes []int16) []int16 {
	i := 0
	for i < len(amplitudes)-1 && amplitudes[i] <= 0 {
		i++
	}
	for i < len(amplitudes)-1 && amplitudes[i] <= 350 {
		i++
	}
	return amplitudes[i:]
}

// newTemplate builds a Template, trimming leading silence and computing
// its fingerprint with engine.
func newTemplate(id int, name string, sampleRate int, amplitudes []int16, engine *fingerprint.Engine) *Template {
	trimmed := trimLeadingSilence(amplitudes)
	return &Template{
		ID:          id,
		Name:        name,
		SampleRate:  sampleRate,
		Amplitudes:  trimmed,
		Fingerprint: engine.Fingerprint(name, trimmed),
	}
}
