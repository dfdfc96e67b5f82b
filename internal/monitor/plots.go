package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/focusfield/focusfield/internal/msg"
)

// PlotHeatmapSnapshots renders every stride-th heatmap as an angle/score
// line plot PNG under outDir. Returns the number of files written.
func PlotHeatmapSnapshots(heatmaps []msg.DoaHeatmap, outDir string, stride int) (int, error) {
	if stride < 1 {
		stride = 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	written := 0
	for i := 0; i < len(heatmaps); i += stride {
		hm := heatmaps[i]
		p := plot.New()
		p.Title.Text = fmt.Sprintf("DOA heatmap seq=%d t=%.3fs", hm.Seq, float64(hm.TNs)/1e9)
		p.X.Label.Text = "azimuth (deg)"
		p.Y.Label.Text = "score"
		p.X.Min, p.X.Max = 0, 360
		p.Y.Min, p.Y.Max = 0, 1.05

		pts := make(plotter.XYs, len(hm.Scores))
		for b, s := range hm.Scores {
			pts[b].X = float64(b) * hm.BinSizeDeg
			pts[b].Y = s
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return written, err
		}
		p.Add(line, plotter.NewGrid())

		for _, pk := range hm.Peaks {
			mark, err := plotter.NewScatter(plotter.XYs{{X: pk.AngleDeg, Y: pk.Score}})
			if err != nil {
				return written, err
			}
			p.Add(mark)
		}

		name := filepath.Join(outDir, fmt.Sprintf("heatmap_%05d.png", hm.Seq))
		if err := p.Save(8*vg.Inch, 4*vg.Inch, name); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// PlotPeakTimeline renders the dominant peak angle over time, one point
// per heatmap, to a single PNG.
func PlotPeakTimeline(heatmaps []msg.DoaHeatmap, outPath string) error {
	p := plot.New()
	p.Title.Text = "Dominant DOA peak"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "azimuth (deg)"
	p.Y.Min, p.Y.Max = 0, 360

	var startNs int64
	if len(heatmaps) > 0 {
		startNs = heatmaps[0].TNs
	}
	var pts plotter.XYs
	for _, hm := range heatmaps {
		if len(hm.Peaks) == 0 {
			continue
		}
		pts = append(pts, plotter.XY{
			X: float64(hm.TNs-startNs) / 1e9,
			Y: hm.Peaks[0].AngleDeg,
		})
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	p.Add(scatter, plotter.NewGrid())
	return p.Save(8*vg.Inch, 4*vg.Inch, outPath)
}
