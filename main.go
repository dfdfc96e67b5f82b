// FocusField is an acoustic lens for conferencing: it fuses a microphone
// array with face tracks, locks onto the active talker, and emits a single
// beamformed stream. This binary hosts the realtime fusion core; capture
// adapters, vision models, and the UI feed it over the bus contracts.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/focusfield/focusfield/internal/beamform"
	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/clock"
	"github.com/focusfield/focusfield/internal/config"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/doa"
	"github.com/focusfield/focusfield/internal/fusion"
	"github.com/focusfield/focusfield/internal/health"
	"github.com/focusfield/focusfield/internal/msg"
	"github.com/focusfield/focusfield/internal/replay"
	"github.com/focusfield/focusfield/internal/sink"
	"github.com/focusfield/focusfield/internal/tracedb"
)

var (
	configPath = flag.String("config", "", "Path to the YAML config file (defaults apply when empty)")
	replayPath = flag.String("replay", "", "Feed inputs from a recorded JSONL trace instead of live capture")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	logger := newLogger("info", "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Kind-2: fatal at startup, one structured event, non-zero exit.
		logger.Error().Str("module", "core.config").Str("event", "config_invalid").
			Err(err).Send()
		return 2
	}
	logger = newLogger(cfg.Log.Level, cfg.Log.Format)

	clk := clock.NewMonotonic()
	b := bus.New(bus.Options{
		DefaultCapacity: cfg.Bus.DefaultCapacity,
		DefaultPolicy:   bus.OverflowPolicy(cfg.Bus.OverflowPolicy),
		BlockMaxWait:    time.Duration(cfg.Bus.BlockMaxWaitMs) * time.Millisecond,
		NowNs:           clk.NowNs,
	})
	rt := core.NewRuntime(b, clk, logger, cfg.Runtime.ArtifactDir)
	b.OnDrop(func(d bus.DropReport) {
		// Reporting drops on log.events through log.events would recurse.
		if d.Topic == msg.TopicNameLogEvents {
			return
		}
		rt.Event("warn", "core.bus", "drop", map[string]any{
			"topic":      d.Topic,
			"subscriber": d.SubscriberID,
			"count":      d.Count,
			"policy":     string(d.Policy),
		})
	})

	geom, err := doa.NewGeometry(cfg.Audio.Geometry, cfg.Audio.SpeedOfSoundMps, cfg.Audio.Channels)
	if err != nil {
		logger.Error().Str("module", "core.config").Str("event", "config_invalid").Err(err).Send()
		return 2
	}

	perf := health.NewPerf()
	sup := core.NewSupervisor(rt, time.Duration(cfg.Runtime.ShutdownDeadlineMs)*time.Millisecond)

	doaProc, err := doa.NewProcessor(rt, perf, cfg.Doa, geom, cfg.Audio.SampleRateHz)
	if err != nil {
		logger.Error().Str("module", "core.config").Str("event", "config_invalid").Err(err).Send()
		return 2
	}
	sup.Add(doaProc)

	assoc, err := fusion.NewAssocWorker(rt, perf, cfg.Assoc)
	if err != nil {
		logger.Error().Str("module", "core.config").Str("event", "config_invalid").Err(err).Send()
		return 2
	}
	sup.Add(assoc)
	sup.Add(fusion.NewLockWorker(rt, perf, cfg.Lock))

	bf, err := beamform.NewWorker(rt, perf, cfg.Beamform, geom, cfg.Audio.SampleRateHz, cfg.Audio.BlockSamples)
	if err != nil {
		logger.Error().Str("module", "core.config").Str("event", "config_invalid").Err(err).Send()
		return 2
	}
	sup.Add(bf)
	sup.Add(health.NewAggregator(rt, perf, cfg.Health))

	if cfg.Trace.DBPath != "" {
		db, err := tracedb.Open(cfg.Trace.DBPath)
		if err != nil {
			logger.Error().Str("module", "core.tracedb").Str("event", "open_failed").Err(err).Send()
			return 1
		}
		defer db.Close()
		sup.Add(tracedb.NewWriter(rt, db))
	}
	if cfg.Trace.RecordPath != "" {
		rec, err := replay.NewRecorder(rt, cfg.Trace.RecordPath)
		if err != nil {
			logger.Error().Str("module", "bench.recorder").Str("event", "open_failed").Err(err).Send()
			return 1
		}
		sup.Add(rec)
	}
	if cfg.Sink.Kind != "none" {
		s, err := sink.New(cfg.Sink.Kind, cfg.Sink.Path, cfg.Audio.SampleRateHz)
		if err != nil {
			logger.Error().Str("module", "audio.output").Str("event", "open_failed").Err(err).Send()
			return 1
		}
		sup.Add(sink.NewWorker(rt, s))
	}
	if *replayPath != "" {
		sup.Add(replay.NewPlayer(rt, *replayPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rt.SetShutdown(stop)

	rt.Event("info", "core.runtime", "started", map[string]any{
		"channels":    cfg.Audio.Channels,
		"sample_rate": cfg.Audio.SampleRateHz,
		"replay":      *replayPath != "",
	})

	sup.Run(ctx)
	b.Shutdown()
	logger.Info().Str("module", "core.runtime").Str("event", "stopped").Send()

	if rt.Crashed() {
		return 1
	}
	return 0
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
