package tts

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"
)

// ErrUnknownVoice is returned when a voice is not in the catalog.
var ErrUnknownVoice = errors.New("unknown voice")

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Request contains parameters to synthesize speech. Voice and speed travel
// with every call so a shared engine holds no per-session settings.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Engine is the contract for producing audio.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (AudioSegment, error)
}

// AudioSegment is mono 16-bit PCM produced for one unit of text.
type AudioSegment struct {
	Samples    []int16
	SampleRate int
	Duration   time.Duration
}

func NewAudioSegment(samples []int16, sampleRate int) AudioSegment {
	seg := AudioSegment{Samples: samples, SampleRate: sampleRate}
	if sampleRate > 0 {
		seg.Duration = time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	}
	return seg
}

// FromFloat32 converts samples in [-1, 1] to PCM16, clipping out of range
// values.
func FromFloat32(samples []float32, sampleRate int) AudioSegment {
	out := make([]int16, len(samples))
	for i, v := range samples {
		v = float32(math.Max(-1, math.Min(1, float64(v))))
		out[i] = int16(v * 32767)
	}
	return NewAudioSegment(out, sampleRate)
}

// FromPCM decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func FromPCM(pcm []byte, sampleRate int) AudioSegment {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return NewAudioSegment(samples, sampleRate)
}

func (a AudioSegment) Empty() bool { return len(a.Samples) == 0 }

func (a AudioSegment) PCM() []byte {
	out := make([]byte, len(a.Samples)*2)
	for i, s := range a.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Base64 encodes the samples as base64 little-endian PCM16.
func (a AudioSegment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.PCM())
}

// Voice is a catalog entry.
type Voice struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// DefaultVoices is the Kokoro voice catalog.
func DefaultVoices() map[string]string {
	return map[string]string{
		"af_heart":    "American Female - Heart (warm, friendly)",
		"af_bella":    "American Female - Bella",
		"af_sarah":    "American Female - Sarah",
		"af_nicole":   "American Female - Nicole",
		"af_sky":      "American Female - Sky",
		"am_adam":     "American Male - Adam",
		"am_michael":  "American Male - Michael",
		"bf_emma":     "British Female - Emma",
		"bf_isabella": "British Female - Isabella",
		"bm_george":   "British Male - George",
		"bm_lewis":    "British Male - Lewis",
	}
}

// Catalog is an immutable set of voices.
type Catalog struct {
	voices map[string]string
	ids    []string
}

func NewCatalog(voices map[string]string) *Catalog {
	if len(voices) == 0 {
		voices = DefaultVoices()
	}
	c := &Catalog{voices: make(map[string]string, len(voices))}
	for id, desc := range voices {
		c.voices[id] = desc
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.voices[id]
	return ok
}

// IDs returns voice ids in sorted order.
func (c *Catalog) IDs() []string { return append([]string(nil), c.ids...) }

// Map returns a copy of the catalog.
func (c *Catalog) Map() map[string]string {
	out := make(map[string]string, len(c.voices))
	for id, desc := range c.voices {
		out[id] = desc
	}
	return out
}

func (c *Catalog) List() []Voice {
	out := make([]Voice, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, Voice{ID: id, Description: c.voices[id]})
	}
	return out
}

func ClampSpeed(speed float64) float64 {
	return math.Max(MinSpeed, math.Min(MaxSpeed, speed))
}
