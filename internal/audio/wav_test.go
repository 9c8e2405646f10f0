package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// one second of PCM16 mono at 16kHz
	pcm := make([]byte, 32000)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	data, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(pcm) {
		t.Errorf("encoded size = %d, want %d", len(data), 44+len(pcm))
	}

	if err := ValidateWAV(data); err != nil {
		t.Errorf("ValidateWAV rejected encoder output: %v", err)
	}

	if !bytes.Equal(data[44:], pcm) {
		t.Error("payload bytes do not match input PCM")
	}

	if sr := binary.LittleEndian.Uint32(data[24:28]); sr != 16000 {
		t.Errorf("header sample rate = %d, want 16000", sr)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		t.Errorf("header channels = %d, want 1", ch)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("header bits per sample = %d, want 16", bits)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
	}{
		{"empty audio", nil, 16000},
		{"odd byte count", make([]byte, 101), 16000},
		{"zero sample rate", make([]byte, 640), 0},
		{"negative sample rate", make([]byte, 640), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.sampleRate); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidateWAVRejectsGarbage(t *testing.T) {
	if err := ValidateWAV([]byte("not a wav file")); err == nil {
		t.Error("short data accepted")
	}

	data, err := EncodeWAV(make([]byte, 640), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	data[0] = 'X'
	if err := ValidateWAV(data); err == nil {
		t.Error("corrupted RIFF marker accepted")
	}
}

func TestWAVDuration(t *testing.T) {
	// 1.5 seconds at 16kHz
	pcm := make([]byte, 48000)
	data, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	d, err := WAVDuration(data)
	if err != nil {
		t.Fatalf("WAVDuration failed: %v", err)
	}
	if math.Abs(d-1.5) > 0.001 {
		t.Errorf("duration = %f, want 1.5", d)
	}
}
