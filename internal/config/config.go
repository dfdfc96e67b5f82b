// Package config loads and validates the FocusField configuration file.
// Configuration is read once at startup and immutable afterwards;
// reconfiguration requires a restart. Unknown keys, out-of-range values,
// and geometry inconsistent with the channel count are fatal (kind-2).
package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/viper"

	"github.com/focusfield/focusfield/internal/beamform"
	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/doa"
	"github.com/focusfield/focusfield/internal/fusion"
	"github.com/focusfield/focusfield/internal/health"
)

// Audio describes the capture contract the core expects on audio.frames.
type Audio struct {
	SampleRateHz    int
	BlockSamples    int
	Channels        int
	Geometry        [][2]float64 // mic positions in metres, array plane
	SpeedOfSoundMps float64
}

// Bus holds the pub/sub defaults.
type Bus struct {
	DefaultCapacity int
	OverflowPolicy  string
	BlockMaxWaitMs  int64
}

// Runtime holds process-level settings.
type Runtime struct {
	ShutdownDeadlineMs int64
	ArtifactDir        string
}

// Log selects the process logger's level and format.
type Log struct {
	Level  string
	Format string // console or json
}

// Sink selects the output sink variant.
type Sink struct {
	Kind string // none, file_sink, virtual_mic
	Path string
}

// Trace enables the JSONL recorder and the sqlite trace store.
type Trace struct {
	RecordPath string
	DBPath     string
}

// Config is the full validated configuration snapshot.
type Config struct {
	Audio    Audio
	Doa      doa.Config
	Assoc    fusion.AssocConfig
	Lock     fusion.LockConfig
	Beamform beamform.Config
	Bus      Bus
	Health   health.Config
	Runtime  Runtime
	Log      Log
	Sink     Sink
	Trace    Trace
}

// defaults registers every recognized key. The key set doubles as the
// strict-mode whitelist.
func defaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate_hz", 16000)
	v.SetDefault("audio.block_samples", 256)
	v.SetDefault("audio.channels", 4)
	v.SetDefault("audio.geometry", []any{
		[]any{-0.06, 0.0}, []any{-0.02, 0.0}, []any{0.02, 0.0}, []any{0.06, 0.0},
	})
	v.SetDefault("audio.speed_of_sound_mps", 343.0)

	v.SetDefault("doa.bin_size_deg", 2.0)
	v.SetDefault("doa.update_hz", 10.0)
	v.SetDefault("doa.freq_band_hz", []any{300.0, 3800.0})
	v.SetDefault("doa.smoothing_alpha", 0.3)
	v.SetDefault("doa.top_k_peaks", 3)
	v.SetDefault("doa.gate_on_vad", true)
	v.SetDefault("doa.vad_gate_factor", 0.3)
	v.SetDefault("doa.fft_size", 1024)

	v.SetDefault("fusion.max_assoc_deg", 20.0)
	v.SetDefault("fusion.weights.mouth", 0.4)
	v.SetDefault("fusion.weights.face", 0.25)
	v.SetDefault("fusion.weights.doa", 0.35)
	v.SetDefault("fusion.require_vad", true)
	v.SetDefault("fusion.faces_max_age_ms", 300)
	v.SetDefault("fusion.update_hz", 10.0)

	v.SetDefault("lock.acquire_threshold", 0.6)
	v.SetDefault("lock.drop_threshold", 0.35)
	v.SetDefault("lock.speaking_on", 0.5)
	v.SetDefault("lock.acquire_dwell_ms", 150)
	v.SetDefault("lock.hold_ms", 800)
	v.SetDefault("lock.handoff_min_ms", 700)
	v.SetDefault("lock.handoff_margin", 0.1)

	v.SetDefault("beamform.use_last_lock_ms", 500)
	v.SetDefault("beamform.no_lock_behavior", "omni")
	v.SetDefault("beamform.max_latency_ms", 50)

	v.SetDefault("bus.default_capacity", 32)
	v.SetDefault("bus.overflow_policy", "drop_newest")
	v.SetDefault("bus.block_max_wait_ms", 5)

	v.SetDefault("health.update_hz", 2.0)
	v.SetDefault("health.staleness_yellow_ms", 500)
	v.SetDefault("health.staleness_red_ms", 2000)

	v.SetDefault("runtime.shutdown_deadline_ms", 2000)
	v.SetDefault("runtime.artifact_dir", "artifacts")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("sink.kind", "none")
	v.SetDefault("sink.path", "")

	v.SetDefault("trace.record_path", "")
	v.SetDefault("trace.db_path", "")
}

// Load reads the config file at path (empty path means defaults only) and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var unknown []string
		for _, k := range file.AllKeys() {
			if !known[k] {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, fmt.Errorf("config: unknown keys: %v", unknown)
		}
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", path, err)
		}
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	geometry, err := parseGeometry(v.Get("audio.geometry"))
	if err != nil {
		return nil, err
	}
	band, err := parsePair(v.Get("doa.freq_band_hz"))
	if err != nil {
		return nil, fmt.Errorf("config: doa.freq_band_hz: %w", err)
	}

	cfg := &Config{
		Audio: Audio{
			SampleRateHz:    v.GetInt("audio.sample_rate_hz"),
			BlockSamples:    v.GetInt("audio.block_samples"),
			Channels:        v.GetInt("audio.channels"),
			Geometry:        geometry,
			SpeedOfSoundMps: v.GetFloat64("audio.speed_of_sound_mps"),
		},
		Doa: doa.Config{
			BinSizeDeg:     v.GetFloat64("doa.bin_size_deg"),
			FreqLoHz:       band[0],
			FreqHiHz:       band[1],
			FFTSize:        v.GetInt("doa.fft_size"),
			UpdateHz:       v.GetFloat64("doa.update_hz"),
			SmoothingAlpha: v.GetFloat64("doa.smoothing_alpha"),
			TopKPeaks:      v.GetInt("doa.top_k_peaks"),
			GateOnVAD:      v.GetBool("doa.gate_on_vad"),
			VadGateFactor:  v.GetFloat64("doa.vad_gate_factor"),
		},
		Assoc: fusion.AssocConfig{
			MaxAssocDeg: v.GetFloat64("fusion.max_assoc_deg"),
			Weights: fusion.Weights{
				Mouth: v.GetFloat64("fusion.weights.mouth"),
				Face:  v.GetFloat64("fusion.weights.face"),
				Doa:   v.GetFloat64("fusion.weights.doa"),
			},
			FacesMaxAgeMs: v.GetInt64("fusion.faces_max_age_ms"),
			UpdateHz:      v.GetFloat64("fusion.update_hz"),
		},
		Lock: fusion.LockConfig{
			AcquireThreshold: v.GetFloat64("lock.acquire_threshold"),
			DropThreshold:    v.GetFloat64("lock.drop_threshold"),
			SpeakingOn:       v.GetFloat64("lock.speaking_on"),
			AcquireDwellMs:   v.GetInt64("lock.acquire_dwell_ms"),
			HoldMs:           v.GetInt64("lock.hold_ms"),
			HandoffMinMs:     v.GetInt64("lock.handoff_min_ms"),
			HandoffMargin:    v.GetFloat64("lock.handoff_margin"),
			RequireVAD:       v.GetBool("fusion.require_vad"),
		},
		Beamform: beamform.Config{
			UseLastLockMs:  v.GetInt64("beamform.use_last_lock_ms"),
			NoLockBehavior: beamform.NoLockBehavior(v.GetString("beamform.no_lock_behavior")),
			MaxLatencyMs:   v.GetInt64("beamform.max_latency_ms"),
		},
		Bus: Bus{
			DefaultCapacity: v.GetInt("bus.default_capacity"),
			OverflowPolicy:  v.GetString("bus.overflow_policy"),
			BlockMaxWaitMs:  v.GetInt64("bus.block_max_wait_ms"),
		},
		Health: health.Config{
			UpdateHz: v.GetFloat64("health.update_hz"),
			YellowMs: v.GetInt64("health.staleness_yellow_ms"),
			RedMs:    v.GetInt64("health.staleness_red_ms"),
		},
		Runtime: Runtime{
			ShutdownDeadlineMs: v.GetInt64("runtime.shutdown_deadline_ms"),
			ArtifactDir:        v.GetString("runtime.artifact_dir"),
		},
		Log:  Log{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		Sink: Sink{Kind: v.GetString("sink.kind"), Path: v.GetString("sink.path")},
		Trace: Trace{
			RecordPath: v.GetString("trace.record_path"),
			DBPath:     v.GetString("trace.db_path"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	a := c.Audio
	if a.SampleRateHz < 8000 || a.SampleRateHz > 96000 {
		return fmt.Errorf("config: audio.sample_rate_hz %d outside [8000, 96000]", a.SampleRateHz)
	}
	if a.BlockSamples < 16 || a.BlockSamples > a.SampleRateHz {
		return fmt.Errorf("config: audio.block_samples %d invalid", a.BlockSamples)
	}
	if a.Channels < 2 {
		return fmt.Errorf("config: audio.channels %d, need at least 2", a.Channels)
	}
	if len(a.Geometry) != a.Channels {
		return fmt.Errorf("config: audio.geometry has %d mics for %d channels", len(a.Geometry), a.Channels)
	}
	if a.SpeedOfSoundMps <= 0 {
		return fmt.Errorf("config: audio.speed_of_sound_mps must be positive")
	}

	d := c.Doa
	if d.BinSizeDeg <= 0 || math.Mod(360, d.BinSizeDeg) != 0 {
		return fmt.Errorf("config: doa.bin_size_deg %v does not divide 360", d.BinSizeDeg)
	}
	if d.UpdateHz <= 0 {
		return fmt.Errorf("config: doa.update_hz must be positive")
	}
	if d.SmoothingAlpha < 0 || d.SmoothingAlpha > 1 {
		return fmt.Errorf("config: doa.smoothing_alpha %v outside [0, 1]", d.SmoothingAlpha)
	}
	if d.TopKPeaks < 1 {
		return fmt.Errorf("config: doa.top_k_peaks must be at least 1")
	}
	if d.FreqLoHz < 0 || d.FreqHiHz <= d.FreqLoHz || d.FreqHiHz > float64(a.SampleRateHz)/2 {
		return fmt.Errorf("config: doa.freq_band_hz [%v, %v] invalid for fs=%d", d.FreqLoHz, d.FreqHiHz, a.SampleRateHz)
	}

	if err := c.Assoc.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	l := c.Lock
	if l.AcquireThreshold <= 0 || l.AcquireThreshold > 1 {
		return fmt.Errorf("config: lock.acquire_threshold %v outside (0, 1]", l.AcquireThreshold)
	}
	if l.DropThreshold < 0 || l.DropThreshold >= l.AcquireThreshold {
		return fmt.Errorf("config: lock.drop_threshold %v must sit below acquire_threshold %v",
			l.DropThreshold, l.AcquireThreshold)
	}
	if l.AcquireDwellMs < 0 || l.HoldMs < 0 || l.HandoffMinMs < 0 {
		return fmt.Errorf("config: lock timers must be non-negative")
	}

	if err := c.Beamform.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := bus.ParsePolicy(c.Bus.OverflowPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Sink.Kind {
	case "none", "file_sink", "virtual_mic":
	default:
		return fmt.Errorf("config: sink.kind %q unknown", c.Sink.Kind)
	}
	if c.Sink.Kind != "none" && c.Sink.Path == "" {
		return fmt.Errorf("config: sink.path required for sink.kind %q", c.Sink.Kind)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format %q unknown", c.Log.Format)
	}
	return nil
}

func parseGeometry(raw any) ([][2]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("config: audio.geometry must be a list of [x, y] pairs")
	}
	out := make([][2]float64, 0, len(list))
	for i, item := range list {
		pairRaw, ok := item.([]any)
		if !ok || len(pairRaw) != 2 {
			return nil, fmt.Errorf("config: audio.geometry[%d] must be an [x, y] pair", i)
		}
		var pair [2]float64
		for j, f := range pairRaw {
			v, err := toFloat(f)
			if err != nil {
				return nil, fmt.Errorf("config: audio.geometry[%d]: %w", i, err)
			}
			pair[j] = v
		}
		out = append(out, pair)
	}
	return out, nil
}

func parsePair(raw any) ([2]float64, error) {
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return [2]float64{}, fmt.Errorf("must be a [lo, hi] pair")
	}
	var out [2]float64
	for i, f := range list {
		v, err := toFloat(f)
		if err != nil {
			return [2]float64{}, err
		}
		out[i] = v
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}
