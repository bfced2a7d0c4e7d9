// Package recordsink flushes a finished container's accumulated WAV
// bytes to disk under records/YYYY/MM/DD/HH/<chan_id>.<format>, grounded
// on original_source/src/audio_container.py's get_path_for_save_file /
// save_wav_file. Writes run on a bounded worker pool via
// golang.org/x/sync/semaphore; while every worker is busy, Handle waits
// for a free slot before returning.
package recordsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chuffdetect/callsentry/internal/container"
	"github.com/chuffdetect/callsentry/internal/wavcodec"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

// Sink writes a finished container's WAV recording, if the CREATE event
// asked for one.
type Sink struct {
	folder string
	sem    *semaphore.Weighted
	log    *xlog.Logger
}

// New constructs a Sink rooted at folder, with maxConcurrent bounding the
// number of WAV writes running at once.
func New(folder string, maxConcurrent int64, log *xlog.Logger) *Sink {
	return &Sink{folder: folder, sem: semaphore.NewWeighted(maxConcurrent), log: log}
}

// Handle is passed as a container.OnFinished callback: it's invoked once
// a container's background parse loop exits.
func (s *Sink) Handle(c *container.Container) {
	if !c.SaveRecord() {
		return
	}

	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	go func() {
		defer s.sem.Release(1)
		s.flush(c)
	}()
}

func (s *Sink) flush(c *container.Container) {
	bytesSamples := c.BytesSamplesSnapshot()
	if len(bytesSamples) == 0 {
		s.log.Printf("not found packs for chan_id=%s", c.ChanID)
		return
	}

	dir, path := pathForSaveFile(s.folder, c.ChanID, c.SaveFormat(), time.Now())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Printf("ERROR save_wav_file, e=%v", err)
		return
	}

	format := wavcodec.Format{
		SampleRate:  c.SampleRate(),
		SampleWidth: c.SampleWidth(),
	}
	if err := wavcodec.WriteFile(path, bytesSamples, format); err != nil {
		s.log.Printf("ERROR save_wav_file, e=%v", err)
		return
	}
	s.log.Printf("running save file: %s", path)
}

func pathForSaveFile(folder, chanID, saveFormat string, at time.Time) (dir, path string) {
	dir = filepath.Join(folder,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		fmt.Sprintf("%02d", at.Hour()))
	path = filepath.Join(dir, fmt.Sprintf("%s.%s", chanID, saveFormat))
	return dir, path
}
