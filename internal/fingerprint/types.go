// Package fingerprint implements the spectrogram-peak hashing algorithm
// used both to build template fingerprints at load time and to fingerprint
// live call windows for matching.
package fingerprint

// Point is a (time bin, frequency bin) coordinate in the spectrogram.
type Point struct {
	Time int
	Freq int
}

// FingerPrint carries a hash-string -> anchor-time-offset map plus the
// geometric points behind each hash, so a later match can be rendered back
// onto the spectrogram it came from.
type FingerPrint struct {
	Name string

	// Spectrogram is the log-power matrix the hashes were derived from,
	// indexed [freqBin][timeBin]. Retained for diagnostic rendering only.
	Spectrogram [][]float64

	// HashOffsets maps a hash string to the anchor (first peak) time bin.
	HashOffsets map[string]int

	// FirstPoints and SecondPoints map a hash to the two peaks that
	// produced it, for overlaying matches on a rendered spectrogram.
	FirstPoints  map[string]Point
	SecondPoints map[string]Point
}

func newFingerPrint(name string, spectrogram [][]float64) *FingerPrint {
	return &FingerPrint{
		Name:         name,
		Spectrogram:  spectrogram,
		HashOffsets:  make(map[string]int),
		FirstPoints:  make(map[string]Point),
		SecondPoints: make(map[string]Point),
	}
}

func (fp *FingerPrint) addHash(hash string, t1, f1, t2, f2 int) {
	fp.HashOffsets[hash] = t1
	fp.FirstPoints[hash] = Point{Time: t1, Freq: f1}
	fp.SecondPoints[hash] = Point{Time: t2, Freq: f2}
}

// Params tunes the engine for a given sample rate profile. The 8 kHz
// defaults come from spec.md; a 16 kHz profile overrides SampleRate and
// WindowSize (the FFT size) without touching the algorithm.
type Params struct {
	SampleRate     int
	WindowSize     int     // FFT size W
	OverlapRatio   float64 // R
	FanValue       int     // peaks paired with each peak, minus one
	AmpMin         float64 // peak acceptance threshold, dB
	PeakNeighbors  int     // PEAK_NEIGHBORHOOD_SIZE, radius of the square peak neighborhood
	MaxHashDeltaT  int     // MAX_HASH_TIME_DELTA, in time bins
	MinFreqBin     int     // hashes pairing a bin below this are skipped
}

// DefaultParams8kHz returns the 8 kHz profile spec.md §4.5/§9 pins as the
// canonical defaults.
func DefaultParams8kHz() Params {
	return Params{
		SampleRate:    8000,
		WindowSize:    160,
		OverlapRatio:  0.55,
		FanValue:      15,
		AmpMin:        10,
		PeakNeighbors: 6,
		MaxHashDeltaT: 200,
		MinFreqBin:    2,
	}
}

// DefaultParams16kHz scales the window size for a 16 kHz input profile,
// per spec.md §4.5's "512 at 16 kHz" note.
func DefaultParams16kHz() Params {
	p := DefaultParams8kHz()
	p.SampleRate = 16000
	p.WindowSize = 512
	return p
}
