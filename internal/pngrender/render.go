// Package pngrender draws a diagnostic spectrogram PNG for an accepted
// match: the query's log-power spectrogram as a heatmap, the shared
// fingerprint peaks overlaid as a scatter, and a vertical line at the
// matched offset. Grounded on
// original_source/src/custom_dataclasses/fingerprint.py's
// save_matching_print2png, translated from matplotlib's pcolor/scatter
// onto gonum.org/v1/plot.
package pngrender

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/chuffdetect/callsentry/internal/fingerprint"
)

// spectrogramGrid adapts a [freqBin][timeBin] matrix to plotter.GridXYZ.
type spectrogramGrid struct {
	data [][]float64
}

func (g spectrogramGrid) Dims() (c, r int) {
	if len(g.data) == 0 {
		return 0, 0
	}
	return len(g.data[0]), len(g.data)
}

func (g spectrogramGrid) X(c int) float64 { return float64(c) }
func (g spectrogramGrid) Y(r int) float64 { return float64(r) }
func (g spectrogramGrid) Z(c, r int) float64 {
	return g.data[r][c]
}

// Render draws one diagnostic PNG under
// baseFolder/YYYY/MM/DD/HH/<printName>_<templateName>.png, matching the
// original's date-bucketed save_folder layout. sharedHashes is the set of
// hashes the match was accepted on; shiftLine is the matched median
// offset drawn as a vertical reference line.
func Render(baseFolder string, at time.Time, printName, templateName string, query *fingerprint.FingerPrint, sharedHashes []string, shiftLine int) error {
	matching := make(map[fingerprint.Point]struct{})
	for _, h := range sharedHashes {
		if p, ok := query.FirstPoints[h]; ok {
			matching[p] = struct{}{}
		}
		if p, ok := query.SecondPoints[h]; ok {
			matching[p] = struct{}{}
		}
	}
	if len(matching) == 0 {
		return nil
	}

	dir := filepath.Join(baseFolder,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		fmt.Sprintf("%02d", at.Hour()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pngrender: mkdir %s: %w", dir, err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s_%s", printName, templateName)

	heat := plotter.NewHeatMap(spectrogramGrid{data: query.Spectrogram}, moreland.SmoothBlueRed())
	p.Add(heat)

	pts := make(plotter.XYs, 0, len(matching))
	for pt := range matching {
		pts = append(pts, plotter.XY{X: float64(pt.Time), Y: float64(pt.Freq)})
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("pngrender: scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{G: 200, A: 255}
	p.Add(scatter)

	line, err := plotter.NewLine(plotter.XYs{
		{X: float64(shiftLine), Y: 0},
		{X: float64(shiftLine), Y: float64(len(query.Spectrogram))},
	})
	if err == nil {
		line.Color = color.RGBA{R: 200, A: 255}
		p.Add(line)
	}

	outPath := filepath.Join(dir, fmt.Sprintf("%s_%s.png", printName, templateName))
	if err := p.Save(8*vg.Inch, 5*vg.Inch, outPath); err != nil {
		return fmt.Errorf("pngrender: save %s: %w", outPath, err)
	}
	return nil
}
