// Package detector runs the prepare loop (admits detection windows from
// active containers) and the matcher loop (fingerprints admitted windows
// and checks them against the template library), grounded on
// original_source/src/detector.py's Detector.start_loop/run_detection,
// translated from its asyncio + ProcessPoolExecutor split into a bounded
// worker pool of goroutines via golang.org/x/sync/semaphore.
package detector

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chuffdetect/callsentry/internal/container"
	"github.com/chuffdetect/callsentry/internal/fingerprint"
	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/pngrender"
	"github.com/chuffdetect/callsentry/internal/templatelib"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

const prepareLoopInterval = 100 * time.Millisecond

// ContainerSource supplies the set of live containers to poll and a way
// to notify the matched call's callback client, so the detector doesn't
// need to know about the lifecycle controller's bookkeeping.
type ContainerSource interface {
	ActiveContainers() []*container.Container
	NotifyMatch(ctx context.Context, chanID, callID, templateName string) error
}

// Detector owns the template library and the fingerprint-then-match
// pipeline for every admitted detection window.
type Detector struct {
	source  ContainerSource
	engine  *fingerprint.Engine
	library *templatelib.Library
	sem     *semaphore.Weighted

	savePNGFolder string // empty disables diagnostic rendering

	log     *xlog.Logger
	metrics *metrics.Metrics
}

// New constructs a Detector. maxConcurrent bounds the fingerprint worker
// pool, mirroring the original's ProcessPoolExecutor sizing.
func New(source ContainerSource, engine *fingerprint.Engine, library *templatelib.Library, maxConcurrent int64, savePNGFolder string, log *xlog.Logger, m *metrics.Metrics) *Detector {
	return &Detector{
		source:        source,
		engine:        engine,
		library:       library,
		sem:           semaphore.NewWeighted(maxConcurrent),
		savePNGFolder: savePNGFolder,
		log:           log,
		metrics:       m,
	}
}

// Run starts the prepare loop, blocking until ctx is cancelled. Each
// admitted window is fingerprinted and matched on its own goroutine,
// bounded by the semaphore; while every slot is busy, admission of the
// next window waits for one to free up.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(prepareLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.prepareTick(ctx)
		}
	}
}

func (d *Detector) prepareTick(ctx context.Context) {
	containers := d.source.ActiveContainers()
	if len(containers) == 0 {
		return
	}

	for _, c := range containers {
		if c.Destroyed() || c.FoundTemplates() != "" {
			continue
		}
		window, ok := c.DetectionWindow()
		if !ok {
			if d.metrics != nil {
				d.metrics.DetectorWindowsSkipped.Inc()
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.DetectorWindowsAdmitted.Inc()
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(c *container.Container, window []int16) {
			defer d.sem.Release(1)
			d.matchOne(c, window)
		}(c, window)
	}
}

func (d *Detector) matchOne(c *container.Container, window []int16) {
	start := time.Now()
	fp := d.engine.Fingerprint(c.ChanID, window)
	if d.metrics != nil {
		d.metrics.FingerprintDuration.Observe(time.Since(start).Seconds())
	}

	templateName, matchCount, shift := templatelib.Analyse(fp, d.library.HashIndex, d.library.Templates, "")
	if templateName == "" {
		return
	}

	d.log.Printf("len points template:%s chan_id:%s match_count=%d", templateName, c.ChanID, matchCount)
	c.AddFoundTemplate(templateName)
	if d.metrics != nil {
		d.metrics.MatchesAccepted.WithLabelValues(templateName).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.source.NotifyMatch(ctx, c.ChanID, c.CallID, templateName); err != nil {
		d.log.Printf("callback notify failed for chan_id=%s: %v", c.ChanID, err)
	}

	if d.savePNGFolder != "" {
		shared := sharedHashes(fp, d.library.HashIndex, templateName)
		if err := pngrender.Render(d.savePNGFolder, time.Now(), c.ChanID, templateName, fp, shared, shift); err != nil {
			d.log.Printf("ERROR! [save_matching_print2png] %v", err)
		}
	}
}

func sharedHashes(fp *fingerprint.FingerPrint, hashIndex map[string][]string, templateName string) []string {
	var out []string
	for h := range fp.HashOffsets {
		for _, name := range hashIndex[h] {
			if name == templateName {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
