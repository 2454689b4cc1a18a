package tts

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"
)

// samplesPerRune at speed 1.0 gives roughly 14 characters per second of
// speech at 24kHz.
const samplesPerRune = 1700

type mockEngine struct {
	sampleRate int
}

// NewMockEngine returns an engine that renders a quiet tone whose length
// follows the text length and speed. Blank text yields an empty segment.
func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) (AudioSegment, error) {
	if err := ctx.Err(); err != nil {
		return AudioSegment{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return NewAudioSegment(nil, m.sampleRate), nil
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	scale := float64(m.sampleRate) / 24000
	n := int(float64(utf8.RuneCountInString(text)*samplesPerRune) * scale / speed)
	samples := make([]int16, n)
	freq := 220 + float64(len(req.Voice)%5)*40
	for i := range samples {
		samples[i] = int16(2000 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return NewAudioSegment(samples, m.sampleRate), nil
}
