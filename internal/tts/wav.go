package tts

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a PCM WAV stream into a mono segment. Extra channels are
// averaged and other bit depths are rescaled to 16 bits.
func DecodeWAV(r io.ReadSeeker) (AudioSegment, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return AudioSegment{}, errors.New("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioSegment{}, fmt.Errorf("decode wav: %w", err)
	}
	channels := 1
	sampleRate := int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			sampleRate = buf.Format.SampleRate
		}
	}
	depth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		depth = buf.SourceBitDepth
	}

	frames := len(buf.Data) / channels
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += toInt16(buf.Data[i*channels+c], depth)
		}
		samples[i] = int16(sum / channels)
	}
	return NewAudioSegment(samples, sampleRate), nil
}

func toInt16(v, depth int) int {
	switch {
	case depth == 8:
		return (v - 128) << 8
	case depth > 16:
		return v >> (depth - 16)
	default:
		return v
	}
}

// WriteWAV encodes seg as a mono 16-bit WAV file.
func WriteWAV(w io.WriteSeeker, seg AudioSegment) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: seg.SampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(seg.Samples)),
	}
	for i, s := range seg.Samples {
		buffer.Data[i] = int(s)
	}
	enc := wav.NewEncoder(w, seg.SampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
