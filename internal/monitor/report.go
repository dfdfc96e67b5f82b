package monitor

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteReport renders an HTML report of the trace: the lock timeline, the
// lock confidence curve, and the final heatmap snapshot.
func WriteReport(tr *Trace, outPath string) error {
	page := components.NewPage()

	startNs := tr.StartNs()
	secs := func(ns int64) string {
		return fmt.Sprintf("%.2f", float64(ns-startNs)/1e9)
	}

	// Lock state and confidence over time.
	stateIdx := map[string]int{"NO_LOCK": 0, "ACQUIRE": 1, "HOLD": 2, "HANDOFF": 3, "LOCKED": 4}
	var times []string
	var states []opts.LineData
	var confs []opts.LineData
	for _, l := range tr.Locks {
		times = append(times, secs(l.TNs))
		states = append(states, opts.LineData{Value: stateIdx[string(l.State)]})
		confs = append(confs, opts.LineData{Value: l.Confidence})
	}
	lockChart := charts.NewLine()
	lockChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Target lock",
			Subtitle: "state index (0=NO_LOCK .. 4=LOCKED) and confidence",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	lockChart.SetXAxis(times).
		AddSeries("state", states).
		AddSeries("confidence", confs)
	page.AddCharts(lockChart)

	// Dominant peak bearing over time.
	var peakTimes []string
	var peaks []opts.ScatterData
	for _, hm := range tr.Heatmaps {
		if len(hm.Peaks) == 0 {
			continue
		}
		peakTimes = append(peakTimes, secs(hm.TNs))
		peaks = append(peaks, opts.ScatterData{Value: hm.Peaks[0].AngleDeg})
	}
	peakChart := charts.NewScatter()
	peakChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Dominant DOA peak (deg)"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 360}),
	)
	peakChart.SetXAxis(peakTimes).AddSeries("peak", peaks)
	page.AddCharts(peakChart)

	// Final heatmap snapshot.
	if n := len(tr.Heatmaps); n > 0 {
		hm := tr.Heatmaps[n-1]
		var angles []string
		var scores []opts.LineData
		for b, s := range hm.Scores {
			angles = append(angles, fmt.Sprintf("%.0f", float64(b)*hm.BinSizeDeg))
			scores = append(scores, opts.LineData{Value: s})
		}
		hmChart := charts.NewLine()
		hmChart.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{
				Title:    "Final heatmap",
				Subtitle: fmt.Sprintf("seq=%d confidence=%.2f", hm.Seq, hm.Confidence),
			}),
		)
		hmChart.SetXAxis(angles).AddSeries("score", scores)
		page.AddCharts(hmChart)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return page.Render(f)
}
