// Package wavcodec reads and writes mono linear-PCM WAV files. No pack
// example ships a WAV parsing library (the only "wav" hits in the retrieved
// corpus are content-type string checks), so this is a small hand-rolled
// RIFF/WAVE reader and writer on top of encoding/binary.
package wavcodec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWave is returned when the input is not a RIFF/WAVE container.
var ErrNotWave = errors.New("wavcodec: not a RIFF/WAVE file")

// Format describes the PCM layout of a WAV stream. Only mono linear PCM is
// supported, matching the telephony profiles this system ingests.
type Format struct {
	SampleRate  int
	SampleWidth int // bytes per sample, 2 for 16-bit PCM
}

// ReadFile loads a mono PCM-s16 WAV file and returns its samples and format.
func ReadFile(path string) ([]int16, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, err
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Read parses a RIFF/WAVE stream into s16 samples and its declared format.
func Read(r io.Reader) ([]int16, Format, error) {
	var riffHdr [12]byte
	if _, err := io.ReadFull(r, riffHdr[:]); err != nil {
		return nil, Format{}, err
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWave
	}

	var format Format
	var numChannels uint16
	var bitsPerSample uint16
	var samples []int16

	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, Format{}, err
		}
		chunkID := string(chunkHdr[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, err
			}
			if len(body) < 16 {
				return nil, Format{}, fmt.Errorf("wavcodec: fmt chunk too short (%d bytes)", len(body))
			}
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			format.SampleWidth = int(bitsPerSample / 8)
		case "data":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, err
			}
			if format.SampleWidth != 2 {
				return nil, Format{}, fmt.Errorf("wavcodec: unsupported sample width %d bits", bitsPerSample)
			}
			samples = make([]int16, len(body)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(body[i*2 : i*2+2]))
			}
		default:
			// Skip unknown chunks (e.g. LIST, fact), padded to an even size.
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, Format{}, err
			}
		}
	}

	if numChannels != 1 {
		return nil, Format{}, fmt.Errorf("wavcodec: only mono files are supported, got %d channels", numChannels)
	}
	if samples == nil {
		return nil, Format{}, errors.New("wavcodec: no data chunk found")
	}

	return samples, format, nil
}

// WriteFile writes little-endian s16 sample bytes, already framed per packet,
// as a mono PCM WAV file at path.
func WriteFile(path string, framedSamples [][]byte, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Write(w, framedSamples, format); err != nil {
		return err
	}
	return w.Flush()
}

// Write renders framedSamples (each element is the little-endian byte form
// of one packet's worth of samples, in playback order) as a RIFF/WAVE
// stream.
func Write(w io.Writer, framedSamples [][]byte, format Format) error {
	dataSize := 0
	for _, b := range framedSamples {
		dataSize += len(b)
	}

	byteRate := format.SampleRate * format.SampleWidth
	blockAlign := uint16(format.SampleWidth)

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], 1) // mono
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(format.SampleWidth*8))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, b := range framedSamples {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// EncodeLittleEndian converts signed 16-bit amplitudes (as decoded from a
// big-endian RTP payload) into little-endian WAV sample bytes.
func EncodeLittleEndian(amplitudes []int16) []byte {
	out := make([]byte, len(amplitudes)*2)
	for i, a := range amplitudes {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(a))
	}
	return out
}
