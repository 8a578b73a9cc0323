package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name     string
		sample   float32
		expected int16
	}{
		{name: "full scale positive", sample: 1.0, expected: 32767},
		{name: "full scale negative", sample: -1.0, expected: -32768},
		{name: "silence", sample: 0, expected: 0},
		{name: "half positive truncates", sample: 0.5, expected: 16383},
		{name: "half negative", sample: -0.5, expected: -16384},
		{name: "tiny negative truncates toward zero", sample: -0.00001, expected: 0},
		{name: "clamped above", sample: 2.5, expected: 32767},
		{name: "clamped below", sample: -3, expected: -32768},
		{name: "positive infinity", sample: float32(math.Inf(1)), expected: 32767},
		{name: "NaN", sample: float32(math.NaN()), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quantize(tt.sample); got != tt.expected {
				t.Errorf("Quantize(%v): expected %d, got %d", tt.sample, tt.expected, got)
			}
		})
	}
}

func TestEncodeClipHeader(t *testing.T) {
	samples := make([]float32, 15360)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 880 * float64(i) / 16000))
	}

	data := EncodeClip(samples, 16000)

	if len(data) != 44+15360*2 {
		t.Fatalf("Expected %d bytes, got %d", 44+15360*2, len(data))
	}

	checks := []struct {
		name   string
		offset int
		want   string
	}{
		{"riff", 0, "RIFF"},
		{"wave", 8, "WAVE"},
		{"fmt", 12, "fmt "},
		{"data", 36, "data"},
	}
	for _, c := range checks {
		if got := string(data[c.offset : c.offset+4]); got != c.want {
			t.Errorf("%s tag: expected %q, got %q", c.name, c.want, got)
		}
	}

	le := binary.LittleEndian
	if got := le.Uint32(data[4:8]); got != 36+15360*2 {
		t.Errorf("Expected RIFF size %d, got %d", 36+15360*2, got)
	}
	if got := le.Uint32(data[16:20]); got != 16 {
		t.Errorf("Expected fmt size 16, got %d", got)
	}
	if got := le.Uint16(data[20:22]); got != 1 {
		t.Errorf("Expected PCM format 1, got %d", got)
	}
	if got := le.Uint16(data[22:24]); got != 1 {
		t.Errorf("Expected 1 channel, got %d", got)
	}
	if got := le.Uint32(data[24:28]); got != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got)
	}
	if got := le.Uint32(data[28:32]); got != 32000 {
		t.Errorf("Expected byte rate 32000, got %d", got)
	}
	if got := le.Uint16(data[32:34]); got != 2 {
		t.Errorf("Expected block align 2, got %d", got)
	}
	if got := le.Uint16(data[34:36]); got != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", got)
	}
	if got := le.Uint32(data[40:44]); got != 15360*2 {
		t.Errorf("Expected data size %d, got %d", 15360*2, got)
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if info.TotalSize != 36+info.DataSize {
		t.Errorf("Expected total size %d, got %d", 36+info.DataSize, info.TotalSize)
	}
	if math.Abs(info.Duration-0.96) > 0.0001 {
		t.Errorf("Expected duration 0.96, got %.4f", info.Duration)
	}
}

func TestEncodeClipSamples(t *testing.T) {
	samples := []float32{1.0, -1.0, 0, 0.5, -0.5, 7}
	data := EncodeClip(samples, 16000)

	pcm, sampleRate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", sampleRate)
	}

	expected := []int16{32767, -32768, 0, 16383, -16384, 32767}
	if len(pcm) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(pcm))
	}
	for i := range expected {
		if pcm[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], pcm[i])
		}
	}
}

func TestEncodeClipDeterministic(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4}

	first := EncodeClip(samples, 16000)
	second := EncodeClip(samples, 16000)

	if string(first) != string(second) {
		t.Error("Expected identical output for identical input")
	}
}

func TestEncodeClipEmpty(t *testing.T) {
	data := EncodeClip(nil, 16000)

	if len(data) != WAVHeaderSize {
		t.Fatalf("Expected header only (%d bytes), got %d", WAVHeaderSize, len(data))
	}
	if err := ValidateWAV(data); err != nil {
		t.Errorf("Expected valid header, got: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36 {
		t.Errorf("Expected RIFF size 36, got %d", got)
	}
}

func TestDecodeWAV(t *testing.T) {
	data := EncodeClip([]float32{0.25, -0.75, 0.9, -0.1}, 16000)

	decodedSamples, decodedSampleRate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedSampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", decodedSampleRate)
	}

	expected := []int16{8191, -24576, 29490, -3276}
	if len(decodedSamples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(decodedSamples))
	}

	for i := range expected {
		if decodedSamples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], decodedSamples[i])
		}
	}
}

func TestDecodeWAVHeaderOnly(t *testing.T) {
	if _, _, err := DecodeWAV(EncodeClip(nil, 16000)); err == nil {
		t.Error("Expected error for WAV without samples")
	}
}

func TestDecodeFloat(t *testing.T) {
	data := EncodeClip([]float32{-1.0, 0, 0.5, 1.0}, 16000)

	samples, sampleRate, err := DecodeFloat(data)
	if err != nil {
		t.Fatalf("DecodeFloat failed: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", sampleRate)
	}

	expected := []float32{-1.0, 0, 0.5, 1.0}
	for i := range expected {
		if math.Abs(float64(samples[i]-expected[i])) > 1.0/32767 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], samples[i])
		}
	}

	// full scale survives in both directions
	if samples[0] != -1.0 || samples[3] != 1.0 {
		t.Errorf("Expected exact full scale, got %f and %f", samples[0], samples[3])
	}
}

func TestDecodeFloatRoundTrip(t *testing.T) {
	samples := make([]float32, 2048)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	decoded, _, err := DecodeFloat(EncodeClip(samples, 16000))
	if err != nil {
		t.Fatalf("DecodeFloat failed: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		// one quantization step plus float32 rounding
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > 1.0/32767+1e-7 {
			t.Fatalf("Sample %d: %f decoded as %f (diff %g)", i, samples[i], decoded[i], diff)
		}
	}
}

func TestDequantize(t *testing.T) {
	tests := []struct {
		sample   int16
		expected float32
	}{
		{sample: 32767, expected: 1.0},
		{sample: -32768, expected: -1.0},
		{sample: 0, expected: 0},
		{sample: -16384, expected: -0.5},
	}

	for _, tt := range tests {
		if got := Dequantize(tt.sample); got != tt.expected {
			t.Errorf("Dequantize(%d): expected %f, got %f", tt.sample, tt.expected, got)
		}
	}
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	data := EncodeClip([]float32{0.1, 0.2}, 16000)
	binary.LittleEndian.PutUint16(data[22:24], 2)

	if _, _, err := DecodeWAV(data); err == nil {
		t.Error("Expected error for stereo WAV")
	}
}

func TestValidateWAV(t *testing.T) {
	err := ValidateWAV([]byte{1, 2, 3})
	if err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	err = ValidateWAV(invalidWAV)
	if err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func BenchmarkEncodeClip(b *testing.B) {
	samples := make([]float32, 15360)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeClip(samples, 16000)
	}
}
