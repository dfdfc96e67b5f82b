// Package msg defines the typed messages carried on the FocusField bus and
// the newline-delimited JSON wire format used for persisted traces.
//
// All timestamps are monotonic nanoseconds. All sequence numbers are
// per-stream and strictly increasing by one. All azimuths are global
// degrees in [0, 360) after wrapping.
package msg

// AudioFrame is one multichannel capture block. Samples are interleaved
// float32 PCM in [-1, 1]; Channel gives strided access to one channel.
type AudioFrame struct {
	TNs          int64     `json:"t_ns"`
	Seq          uint64    `json:"seq"`
	SampleRateHz int       `json:"sample_rate_hz"`
	BlockSamples int       `json:"block_samples"`
	Channels     int       `json:"channels"`
	PCM          []float32 `json:"pcm"`
}

// Channel copies channel ch of the frame into dst as float64 and returns it.
// dst is grown if needed; len(result) == BlockSamples.
func (f *AudioFrame) Channel(ch int, dst []float64) []float64 {
	if cap(dst) < f.BlockSamples {
		dst = make([]float64, f.BlockSamples)
	}
	dst = dst[:f.BlockSamples]
	for n := 0; n < f.BlockSamples; n++ {
		dst[n] = float64(f.PCM[n*f.Channels+ch])
	}
	return dst
}

// VoiceActivity is the per-block speech/no-speech decision.
type VoiceActivity struct {
	TNs        int64   `json:"t_ns"`
	Seq        uint64  `json:"seq"`
	Speech     bool    `json:"speech"`
	Confidence float64 `json:"confidence"`
}

// FaceTrack is one visually tracked face. TrackID is stable across frames
// while the track is alive; BearingDeg is camera-yaw compensated.
type FaceTrack struct {
	TNs           int64      `json:"t_ns"`
	Seq           uint64     `json:"seq"`
	TrackID       string     `json:"track_id"`
	Bbox          [4]float64 `json:"bbox"`
	Confidence    float64    `json:"confidence"`
	BearingDeg    float64    `json:"bearing_deg"`
	MouthActivity float64    `json:"mouth_activity"`
}

// FaceTrackBatch is the batch published on vision.face_tracks. Staleness is
// judged against the batch timestamp, not per track.
type FaceTrackBatch struct {
	TNs    int64       `json:"t_ns"`
	Seq    uint64      `json:"seq"`
	Tracks []FaceTrack `json:"tracks"`
}

// Peak is one local maximum of a DOA heatmap.
type Peak struct {
	AngleDeg float64 `json:"angle_deg"`
	Score    float64 `json:"score"`
}

// DoaHeatmap is a 360-degree azimuth likelihood map. Scores are normalized
// so max == 1 after smoothing; BinCount * BinSizeDeg == 360.
type DoaHeatmap struct {
	TNs           int64     `json:"t_ns"`
	Seq           uint64    `json:"seq"`
	BinCount      int       `json:"bin_count"`
	BinSizeDeg    float64   `json:"bin_size_deg"`
	Scores        []float64 `json:"scores"`
	Peaks         []Peak    `json:"peaks"`
	Confidence    float64   `json:"confidence"`
	LowConfidence bool      `json:"low_confidence"`
}

// AssociationCandidate pairs a DOA peak with at most one face track.
// TrackID is nil for audio-only fallback candidates.
type AssociationCandidate struct {
	TNs                int64   `json:"t_ns"`
	Seq                uint64  `json:"seq"`
	TrackID            *string `json:"track_id"`
	DoaPeakDeg         float64 `json:"doa_peak_deg"`
	AngularDistanceDeg float64 `json:"angular_distance_deg"`
	MouthScore         float64 `json:"mouth_score"`
	FaceConfScore      float64 `json:"face_conf_score"`
	DoaPeakScore       float64 `json:"doa_peak_score"`
	CombinedScore      float64 `json:"combined_score"`
}

// CandidateBatch is one association tick's output, highest score first.
// An empty batch is still published so the lock machine gets a heartbeat.
type CandidateBatch struct {
	TNs        int64                  `json:"t_ns"`
	Seq        uint64                 `json:"seq"`
	Candidates []AssociationCandidate `json:"candidates"`
}

// LockState is the lock machine's primary state.
type LockState string

const (
	StateNoLock  LockState = "NO_LOCK"
	StateAcquire LockState = "ACQUIRE"
	StateLocked  LockState = "LOCKED"
	StateHold    LockState = "HOLD"
	StateHandoff LockState = "HANDOFF"
)

// LockMode is derived from the locked candidate's evidence, not a primary state.
type LockMode string

const (
	ModeNoLock     LockMode = "NO_LOCK"
	ModeVisionOnly LockMode = "VISION_ONLY"
	ModeAudioOnly  LockMode = "AUDIO_ONLY"
	ModeAVLock     LockMode = "AV_LOCK"
)

// StabilityStats summarizes how settled the current lock is.
type StabilityStats struct {
	TicksLocked    int   `json:"ticks_locked"`
	HoldCount      int   `json:"hold_count"`
	LastCommitTNs  int64 `json:"last_commit_t_ns"`
	HandoffCommits int   `json:"handoff_commits"`
}

// TargetLock is the lock machine's per-tick output. TargetID is nil unless
// a face-backed target is held; TargetBearingDeg is populated whenever a
// steering angle is known, including AUDIO_ONLY mode.
type TargetLock struct {
	TNs              int64          `json:"t_ns"`
	Seq              uint64         `json:"seq"`
	State            LockState      `json:"state"`
	Mode             LockMode       `json:"mode"`
	TargetID         *string        `json:"target_id"`
	TargetBearingDeg *float64       `json:"target_bearing_deg"`
	Confidence       float64        `json:"confidence"`
	Reason           string         `json:"reason"`
	Stability        StabilityStats `json:"stability"`
}

// AudioStats accompanies each enhanced output block.
type AudioStats struct {
	RMS           float64 `json:"rms"`
	Clipped       int     `json:"clipped"`
	SuppressionDB float64 `json:"suppression_db"`
}

// EnhancedAudio is the beamformer's monaural output, aligned 1:1 with the
// input AudioFrame seq.
type EnhancedAudio struct {
	TNs          int64      `json:"t_ns"`
	Seq          uint64     `json:"seq"`
	SampleRateHz int        `json:"sample_rate_hz"`
	BlockSamples int        `json:"block_samples"`
	PCM          []float32  `json:"pcm"`
	Stats        AudioStats `json:"stats"`
}

// LogEvent is a structured diagnostic record on log.events.
type LogEvent struct {
	TNs    int64          `json:"t_ns"`
	Seq    uint64         `json:"seq"`
	Level  string         `json:"level"`
	Module string         `json:"module"`
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// TopicHealthStatus is the staleness verdict for one topic.
type TopicHealthStatus struct {
	AgeMs  int64  `json:"age_ms"`
	Status string `json:"status"` // green, yellow, red
}

// HealthSnapshot is published on runtime.health at a slow cadence.
type HealthSnapshot struct {
	TNs    int64                        `json:"t_ns"`
	Seq    uint64                       `json:"seq"`
	Topics map[string]TopicHealthStatus `json:"topics"`
	Drops  map[string]uint64            `json:"drops"`
}

// LatencyStats is a per-stage processing latency summary.
type LatencyStats struct {
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	Count uint64  `json:"count"`
}

// PerfSnapshot is published on runtime.perf at a slow cadence.
type PerfSnapshot struct {
	TNs    int64                   `json:"t_ns"`
	Seq    uint64                  `json:"seq"`
	Stages map[string]LatencyStats `json:"stages"`
}
