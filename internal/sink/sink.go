// Package sink delivers enhanced audio to the configured output: a WAV
// file or the virtual-mic stream. The variant set is closed and chosen at
// startup; the OS plumbing behind the virtual mic lives outside the core,
// which only writes interleaved s16le PCM to the configured path.
package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/msg"
)

// Sink consumes enhanced blocks. Implementations are not safe for
// concurrent use; the Worker serializes writes.
type Sink interface {
	Write(block msg.EnhancedAudio) error
	Close() error
}

// New constructs the sink variant named by kind.
func New(kind, path string, sampleRateHz int) (Sink, error) {
	switch kind {
	case "file_sink":
		return newFileSink(path, sampleRateHz)
	case "virtual_mic":
		return newVirtualMic(path)
	}
	return nil, fmt.Errorf("sink: unknown kind %q", kind)
}

// fileSink writes a 16-bit mono WAV file.
type fileSink struct {
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer
}

func newFileSink(path string, sampleRateHz int) (*fileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{
		f:   f,
		enc: wav.NewEncoder(f, sampleRateHz, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRateHz},
			SourceBitDepth: 16,
		},
	}, nil
}

func (s *fileSink) Write(block msg.EnhancedAudio) error {
	if cap(s.buf.Data) < len(block.PCM) {
		s.buf.Data = make([]int, len(block.PCM))
	}
	s.buf.Data = s.buf.Data[:len(block.PCM)]
	for i, v := range block.PCM {
		s.buf.Data[i] = pcm16(v)
	}
	return s.enc.Write(s.buf)
}

func (s *fileSink) Close() error {
	if err := s.enc.Close(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// virtualMic streams raw interleaved s16le PCM to a path, typically a FIFO
// owned by the OS-side loopback device.
type virtualMic struct {
	f *os.File
}

func newVirtualMic(path string) (*virtualMic, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &virtualMic{f: f}, nil
}

func (s *virtualMic) Write(block msg.EnhancedAudio) error {
	raw := make([]byte, 2*len(block.PCM))
	for i, v := range block.PCM {
		u := uint16(int16(pcm16(v)))
		raw[2*i] = byte(u)
		raw[2*i+1] = byte(u >> 8)
	}
	_, err := s.f.Write(raw)
	return err
}

func (s *virtualMic) Close() error { return s.f.Close() }

// pcm16 converts a float sample in [-1, 1] to s16 with clamping.
func pcm16(v float32) int {
	x := int(v * 32767)
	if x > 32767 {
		return 32767
	}
	if x < -32768 {
		return -32768
	}
	return x
}

// Worker drains audio.enhanced.beamformed into the sink.
type Worker struct {
	rt   *core.Runtime
	sink Sink
}

// NewWorker wires the sink component.
func NewWorker(rt *core.Runtime, s Sink) *Worker {
	return &Worker{rt: rt, sink: s}
}

func (w *Worker) Name() string { return "audio.output" }

// Run writes blocks until shutdown, then closes the sink.
func (w *Worker) Run(ctx context.Context) error {
	defer w.sink.Close()
	sub, err := bus.Subscribe(w.rt.Bus, msg.TopicEnhancedAudio, 32, bus.DropOldest)
	if err != nil {
		return err
	}
	defer sub.Close()

	writeFailed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := w.sink.Write(block); err != nil {
				if !writeFailed {
					w.rt.Event("error", "audio.output", "write_failed", map[string]any{"error": err.Error()})
					writeFailed = true
				}
			} else {
				writeFailed = false
			}
		}
	}
}
