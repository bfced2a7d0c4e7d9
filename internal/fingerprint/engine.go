package fingerprint

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Engine computes FingerPrints from amplitude windows for a fixed sample
// rate profile. One Engine is shared across all template loads and live
// detection windows at that rate.
type Engine struct {
	params Params
	hann   []float64
	fft    *fourier.FFT
}

// New builds an Engine for params, precomputing the Hann window and the
// gonum FFT plan for params.WindowSize.
func New(params Params) *Engine {
	hann := make([]float64, params.WindowSize)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(params.WindowSize-1)))
	}
	return &Engine{
		params: params,
		hann:   hann,
		fft:    fourier.NewFFT(params.WindowSize),
	}
}

// Fingerprint computes the spectrogram, 2-D peaks, and fan-out hashes for
// name over amplitudes, per spec.md §4.5.
func (e *Engine) Fingerprint(name string, amplitudes []int16) *FingerPrint {
	padded := padAmplitudes(amplitudes, e.params.WindowSize)
	spectrogram := e.spectrogram(padded)
	peaks := e.pick2DPeaks(spectrogram)
	return e.generateHashes(name, spectrogram, peaks)
}

// padAmplitudes pads left with two window-sizes of zeros and right with
// one window-size, per spec.md §4.5 step 1.
func padAmplitudes(amplitudes []int16, windowSize int) []float64 {
	left := windowSize * 2
	right := windowSize
	out := make([]float64, left+len(amplitudes)+right)
	for i, a := range amplitudes {
		out[left+i] = float64(a)
	}
	return out
}

// spectrogram returns a [freqBin][timeBin] matrix of 10*log10(power),
// treating zero-power bins as zero instead of -Inf.
func (e *Engine) spectrogram(samples []float64) [][]float64 {
	windowSize := e.params.WindowSize
	step := int(float64(windowSize) * (1 - e.params.OverlapRatio))
	if step < 1 {
		step = 1
	}

	numBins := windowSize/2 + 1
	var numFrames int
	if len(samples) >= windowSize {
		numFrames = (len(samples)-windowSize)/step + 1
	}

	spec := make([][]float64, numBins)
	for f := range spec {
		spec[f] = make([]float64, numFrames)
	}

	windowed := make([]float64, windowSize)
	for frame := 0; frame < numFrames; frame++ {
		start := frame * step
		for i := 0; i < windowSize; i++ {
			windowed[i] = samples[start+i] * e.hann[i]
		}

		coeffs := e.fft.Coefficients(nil, windowed)
		for f := 0; f < numBins; f++ {
			re, im := real(coeffs[f]), imag(coeffs[f])
			power := re*re + im*im
			if power == 0 {
				spec[f][frame] = 0
			} else {
				spec[f][frame] = 10 * math.Log10(power)
			}
		}
	}

	return spec
}

// pick2DPeaks finds local maxima via dilation (maximum filter) and erosion
// of the spectrogram's zero background, per spec.md §4.5 step 3.
func (e *Engine) pick2DPeaks(spec [][]float64) []Point {
	numFreq := len(spec)
	if numFreq == 0 {
		return nil
	}
	numTime := len(spec[0])
	if numTime == 0 {
		return nil
	}

	radius := e.params.PeakNeighbors
	dilated := maximumFilter(spec, radius)
	erodedBackground := erodeZeroBackground(spec, radius)

	var peaks []Point
	for f := 0; f < numFreq; f++ {
		for t := 0; t < numTime; t++ {
			isLocalMax := dilated[f][t] == spec[f][t]
			isBackground := erodedBackground[f][t]
			// XOR: a peak survives if it's a local max but not also
			// classified as eroded background.
			if isLocalMax != isBackground && spec[f][t] > e.params.AmpMin {
				peaks = append(peaks, Point{Freq: f, Time: t})
			}
		}
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Time < peaks[j].Time })
	return peaks
}

// maximumFilter computes, for every cell, the max over a square
// neighborhood of the given radius (inclusive). The square includes its
// corner cells, so it is not the diamond-shaped neighborhood that an
// iterated connectivity-1 structure of the same size covers.
func maximumFilter(spec [][]float64, radius int) [][]float64 {
	numFreq := len(spec)
	numTime := len(spec[0])

	out := make([][]float64, numFreq)
	for f := range out {
		out[f] = make([]float64, numTime)
		for t := range out[f] {
			best := spec[f][t]
			for df := -radius; df <= radius; df++ {
				nf := f + df
				if nf < 0 || nf >= numFreq {
					continue
				}
				for dt := -radius; dt <= radius; dt++ {
					nt := t + dt
					if nt < 0 || nt >= numTime {
						continue
					}
					if spec[nf][nt] > best {
						best = spec[nf][nt]
					}
				}
			}
			out[f][t] = best
		}
	}
	return out
}

// erodeZeroBackground marks cells where every cell in the same square
// neighborhood maximumFilter uses is zero, an erosion of the zero-power
// background with border_value=1 (cells near the edge where the
// neighborhood runs off the matrix are treated as background).
func erodeZeroBackground(spec [][]float64, radius int) [][]bool {
	numFreq := len(spec)
	numTime := len(spec[0])

	out := make([][]bool, numFreq)
	for f := range out {
		out[f] = make([]bool, numTime)
		for t := range out[f] {
			allZero := true
			for df := -radius; df <= radius && allZero; df++ {
				nf := f + df
				if nf < 0 || nf >= numFreq {
					continue // border_value=1 treats out-of-range as background
				}
				for dt := -radius; dt <= radius; dt++ {
					nt := t + dt
					if nt < 0 || nt >= numTime {
						continue
					}
					if spec[nf][nt] != 0 {
						allZero = false
						break
					}
				}
			}
			out[f][t] = allZero
		}
	}
	return out
}

// generateHashes pairs each peak, sorted by time, with its next FanValue-1
// neighbors and emits a hash for every pair within the Δt window, per
// spec.md §4.5 step 4.
func (e *Engine) generateHashes(name string, spec [][]float64, peaks []Point) *FingerPrint {
	fp := newFingerPrint(name, spec)

	for i := range peaks {
		for j := 1; j < e.params.FanValue; j++ {
			k := i + j
			if k >= len(peaks) {
				break
			}

			p1, p2 := peaks[i], peaks[k]
			if p1.Freq < e.params.MinFreqBin || p2.Freq < e.params.MinFreqBin {
				continue
			}

			deltaT := p2.Time - p1.Time
			if deltaT < 0 || deltaT > e.params.MaxHashDeltaT {
				continue
			}

			hash := fmt.Sprintf("%d|%d|%d", p1.Freq, p2.Freq, deltaT)
			fp.addHash(hash, p1.Time, p1.Freq, p2.Time, p2.Freq)
		}
	}

	return fp
}
