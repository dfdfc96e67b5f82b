// fftrace inspects recorded FocusField JSONL traces: quick summaries, an
// HTML report, and heatmap plot series.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/focusfield/focusfield/internal/monitor"
	"github.com/focusfield/focusfield/internal/msg"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "summary":
		err = runSummary(args)
	case "report":
		err = runReport(args)
	case "plot":
		err = runPlot(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fftrace %s: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: fftrace <command> [flags]

Commands:
  summary   Print per-topic record counts and the lock transition list
  report    Render an HTML report (lock timeline, peak bearing, heatmap)
  plot      Render heatmap PNGs with gonum/plot

Run "fftrace <command> -h" for command flags.
`)
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	trace := fs.String("trace", "", "Trace file to read")
	fs.Parse(args)
	if *trace == "" {
		return fmt.Errorf("-trace is required")
	}

	tr, err := monitor.LoadTrace(*trace)
	if err != nil {
		return err
	}
	fmt.Printf("audio frames:   %d\n", tr.Frames)
	fmt.Printf("vad records:    %d\n", len(tr.VAD))
	fmt.Printf("face batches:   %d\n", len(tr.Faces))
	fmt.Printf("heatmaps:       %d\n", len(tr.Heatmaps))
	fmt.Printf("lock ticks:     %d\n", len(tr.Locks))
	fmt.Printf("enhanced blocks:%d\n", len(tr.Enhanced))

	var prev msg.LockState
	fmt.Println("\nlock transitions:")
	for _, l := range tr.Locks {
		if l.State == prev {
			continue
		}
		id := "-"
		if l.TargetID != nil {
			id = *l.TargetID
		}
		fmt.Printf("  t=%.3fs  %s -> %s  target=%s  %q\n",
			float64(l.TNs)/1e9, orNone(prev), l.State, id, l.Reason)
		prev = l.State
	}
	return nil
}

func orNone(s msg.LockState) msg.LockState {
	if s == "" {
		return "(start)"
	}
	return s
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	trace := fs.String("trace", "", "Trace file to read")
	out := fs.String("out", "report.html", "Output HTML path")
	fs.Parse(args)
	if *trace == "" {
		return fmt.Errorf("-trace is required")
	}

	tr, err := monitor.LoadTrace(*trace)
	if err != nil {
		return err
	}
	if err := monitor.WriteReport(tr, *out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}

func runPlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	trace := fs.String("trace", "", "Trace file to read")
	out := fs.String("out", "plots", "Output directory")
	stride := fs.Int("stride", 10, "Plot every Nth heatmap")
	fs.Parse(args)
	if *trace == "" {
		return fmt.Errorf("-trace is required")
	}

	tr, err := monitor.LoadTrace(*trace)
	if err != nil {
		return err
	}
	n, err := monitor.PlotHeatmapSnapshots(tr.Heatmaps, *out, *stride)
	if err != nil {
		return err
	}
	if err := monitor.PlotPeakTimeline(tr.Heatmaps, *out+"/peaks.png"); err != nil {
		return err
	}
	fmt.Printf("wrote %d heatmap plots and peaks.png under %s\n", n, *out)
	return nil
}
