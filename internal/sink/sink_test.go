package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/focusfield/focusfield/internal/msg"
)

func block(seq uint64, samples ...float32) msg.EnhancedAudio {
	return msg.EnhancedAudio{
		TNs: int64(seq), Seq: seq, SampleRateHz: 16000, BlockSamples: len(samples), PCM: samples,
	}
}

func TestFileSinkWritesDecodableWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := New("file_sink", path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(block(1, 0, 0.5, -0.5, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(block(2, 0.25, -0.25)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if dec.SampleRate != 16000 {
		t.Errorf("sample rate = %d", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d, want mono", dec.NumChans)
	}
	if len(buf.Data) != 6 {
		t.Fatalf("decoded %d samples, want 6", len(buf.Data))
	}
	if buf.Data[1] != 16383 {
		t.Errorf("sample 1 = %d, want 16383 for 0.5", buf.Data[1])
	}
	if buf.Data[3] != 32767 {
		t.Errorf("sample 3 = %d, want full scale", buf.Data[3])
	}
}

func TestVirtualMicWritesRawPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmic.pcm")
	s, err := New("virtual_mic", path, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(block(1, 0, 1, -1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 6 {
		t.Fatalf("wrote %d bytes, want 6 (3 samples s16le)", len(raw))
	}
	// Little-endian: 0, 32767, -32767.
	got := []int16{
		int16(uint16(raw[0]) | uint16(raw[1])<<8),
		int16(uint16(raw[2]) | uint16(raw[3])<<8),
		int16(uint16(raw[4]) | uint16(raw[5])<<8),
	}
	want := []int16{0, 32767, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUnknownKindRejected(t *testing.T) {
	if _, err := New("tape_deck", "x", 16000); err == nil {
		t.Error("expected error for unknown sink kind")
	}
}

func TestPcm16Clamps(t *testing.T) {
	if got := pcm16(2.0); got != 32767 {
		t.Errorf("pcm16(2) = %d", got)
	}
	if got := pcm16(-2.0); got != -32768 {
		t.Errorf("pcm16(-2) = %d", got)
	}
	if got := pcm16(0); got != 0 {
		t.Errorf("pcm16(0) = %d", got)
	}
}
