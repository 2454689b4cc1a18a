package protocol

import (
	"encoding/binary"
	"errors"
	"time"
)

// SessionEvent is the bus and event-store form of a session lifecycle
// event. Audio payloads never travel on the bus.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	NodeID    string    `json:"node_id"`
	Type      string    `json:"type"`
	MessageID string    `json:"message_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthRequest asks a voice node to synthesize text on behalf of another
// service on the bus.
type SynthRequest struct {
	SessionID string  `json:"session_id"`
	MessageID string  `json:"message_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
}

// SynthChunk is one synthesized unit published in reply to a SynthRequest.
type SynthChunk struct {
	SessionID  string `json:"session_id"`
	MessageID  string `json:"message_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	PCMBase64  string `json:"pcm_base64,omitempty"`
	Final      bool   `json:"final"`
	Error      string `json:"error,omitempty"`
}

const (
	SubjectSessionPrefix = "voice.session"
	SubjectSynthRequest  = "voice.tts.request"
	SubjectSynthAudio    = "voice.tts.audio"
)

// SessionSubject is voice.session.<sessionID>.<eventType>.
func SessionSubject(sessionID, eventType string) string {
	return SubjectSessionPrefix + "." + sessionID + "." + eventType
}

// SynthAudioSubject is voice.tts.audio.<sessionID>.
func SynthAudioSubject(sessionID string) string {
	return SubjectSynthAudio + "." + sessionID
}

// ErrOddPCM is returned for binary frames that are not whole PCM16 samples.
var ErrOddPCM = errors.New("pcm frame has odd length")

// DecodePCM16 interprets a binary frame as little-endian signed 16-bit PCM.
func DecodePCM16(frame []byte) ([]int16, error) {
	if len(frame)%2 != 0 {
		return nil, ErrOddPCM
	}
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out, nil
}
