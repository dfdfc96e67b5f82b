package msg

import "github.com/focusfield/focusfield/internal/bus"

// Topic names, as they appear on the wire and in traces.
const (
	TopicNameAudioFrames   = "audio.frames"
	TopicNameVAD           = "audio.vad"
	TopicNameFaceTracks    = "vision.face_tracks"
	TopicNameDoaHeatmap    = "audio.doa_heatmap"
	TopicNameCandidates    = "fusion.candidates"
	TopicNameTargetLock    = "fusion.target_lock"
	TopicNameEnhancedAudio = "audio.enhanced.beamformed"
	TopicNameLogEvents     = "log.events"
	TopicNameHealth        = "runtime.health"
	TopicNamePerf          = "runtime.perf"
)

// Typed topic handles. Input topics are consumed, not produced, by the core.
var (
	TopicAudioFrames   = bus.NewTopic[AudioFrame](TopicNameAudioFrames)
	TopicVAD           = bus.NewTopic[VoiceActivity](TopicNameVAD)
	TopicFaceTracks    = bus.NewTopic[FaceTrackBatch](TopicNameFaceTracks)
	TopicDoaHeatmap    = bus.NewTopic[DoaHeatmap](TopicNameDoaHeatmap)
	TopicCandidates    = bus.NewTopic[CandidateBatch](TopicNameCandidates)
	TopicTargetLock    = bus.NewTopic[TargetLock](TopicNameTargetLock)
	TopicEnhancedAudio = bus.NewTopic[EnhancedAudio](TopicNameEnhancedAudio)
	TopicLogEvents     = bus.NewTopic[LogEvent](TopicNameLogEvents)
	TopicHealth        = bus.NewTopic[HealthSnapshot](TopicNameHealth)
	TopicPerf          = bus.NewTopic[PerfSnapshot](TopicNamePerf)
)
