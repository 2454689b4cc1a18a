package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Client is one session's handle on a possibly shared engine. It owns the
// session's voice and speed and applies them on every call.
type Client struct {
	engine  Engine
	catalog *Catalog

	mu    sync.RWMutex
	voice string
	speed float64
}

func NewClient(engine Engine, catalog *Catalog, voice string, speed float64) (*Client, error) {
	if !catalog.Has(voice) {
		return nil, unknownVoice(catalog, voice)
	}
	return &Client{engine: engine, catalog: catalog, voice: voice, speed: ClampSpeed(speed)}, nil
}

func (c *Client) Synthesize(ctx context.Context, text string) (AudioSegment, error) {
	c.mu.RLock()
	req := Request{Text: text, Voice: c.voice, Speed: c.speed}
	c.mu.RUnlock()
	return c.engine.Synthesize(ctx, req)
}

// SetVoice fails with ErrUnknownVoice and leaves the voice unchanged when
// name is not in the catalog.
func (c *Client) SetVoice(name string) error {
	if !c.catalog.Has(name) {
		return unknownVoice(c.catalog, name)
	}
	c.mu.Lock()
	c.voice = name
	c.mu.Unlock()
	return nil
}

// SetSpeed clamps speed to [MinSpeed, MaxSpeed] and returns the applied value.
func (c *Client) SetSpeed(speed float64) float64 {
	speed = ClampSpeed(speed)
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
	return speed
}

func (c *Client) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice
}

func (c *Client) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

func (c *Client) Voices() map[string]string { return c.catalog.Map() }

func unknownVoice(catalog *Catalog, name string) error {
	return fmt.Errorf("%w: %s. Available: %s", ErrUnknownVoice, name, strings.Join(catalog.IDs(), ", "))
}
