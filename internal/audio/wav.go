package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// WAVHeaderSize is the size of the canonical PCM header written by EncodeClip
const WAVHeaderSize = 44

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Quantize clamps a float sample to [-1, 1] and scales it to a signed 16-bit
// integer. Negative samples scale by 32768 and non-negative samples by 32767,
// so -1.0 maps to -32768 and 1.0 maps to 32767.
func Quantize(sample float32) int16 {
	s := float64(sample)
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// EncodeClip quantizes float samples and wraps them in a mono 16-bit PCM WAV
// container. The layout is fixed: a 44-byte header followed by the samples,
// little-endian throughout. An empty window still yields a valid header.
func EncodeClip(samples []float32, sampleRate int) []byte {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = Quantize(s)
	}

	header := newHeader(len(pcm), sampleRate)
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)*2))

	// writes of fixed-size values into a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, header)
	_ = binary.Write(buf, binary.LittleEndian, pcm)

	return buf.Bytes()
}

// newHeader builds the canonical mono PCM-16 header for numSamples samples
func newHeader(numSamples, sampleRate int) WAVHeader {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(numSamples * 2)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// DecodeWAV decodes WAV format data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < WAVHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if err := validateHeader(&header); err != nil {
		return nil, 0, err
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(buf, binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(header.SampleRate), nil
}

// DecodeFloat decodes a mono PCM-16 WAV file into float samples in [-1, 1].
// It inverts Quantize's scaling: negative samples divide by 32768 and
// non-negative samples by 32767.
func DecodeFloat(data []byte) ([]float32, int, error) {
	pcm, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, err
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = Dequantize(s)
	}
	return samples, sampleRate, nil
}

// Dequantize maps a signed 16-bit sample back to [-1, 1]
func Dequantize(sample int16) float32 {
	if sample < 0 {
		return float32(float64(sample) / 0x8000)
	}
	return float32(float64(sample) / 0x7fff)
}

func validateHeader(header *WAVHeader) error {
	if string(header.ChunkID[:]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(header.Format[:]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(header.Subchunk1ID[:]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(header.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if header.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	return nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	ByteRate      uint32  `json:"byte_rate"`
	BlockAlign    uint16  `json:"block_align"`
	Duration      float64 `json:"duration_seconds"`
	TotalSize     uint32  `json:"total_size_bytes"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.BitsPerSample < 8 || header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV header: bits per sample %d, sample rate %d",
			header.BitsPerSample, header.SampleRate)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		ByteRate:      header.ByteRate,
		BlockAlign:    header.BlockAlign,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		TotalSize:     header.ChunkSize,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
