package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrUnknownType is returned for frames whose type tag is not recognised.
// Sessions ignore these silently.
var ErrUnknownType = errors.New("unknown message type")

// DecodeError reports a malformed inbound frame.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// Inbound is the closed set of client messages. Only types in this package
// implement it.
type Inbound interface {
	inbound()
}

type Synthesize struct {
	Text      string
	MessageID string
	IsFinal   bool
}

type SynthesizeDelta struct {
	Delta     string
	MessageID string
	IsFinal   bool
}

type SetTTSEnabled struct{ Enabled bool }

type SetTTSMuted struct{ Muted bool }

type SetVoice struct{ Voice string }

type SetSpeed struct{ Speed float64 }

// SetWakeWordSettings carries optional fields; nil means unchanged.
type SetWakeWordSettings struct {
	Enabled        *bool
	Model          *string
	Threshold      *float64
	TimeoutSeconds *int
}

type GetSettings struct{}

type GetVoices struct{}

type GetWakeWordModels struct{}

type StopSpeaking struct{}

type SetProcessing struct{ Processing bool }

type SetListening struct{}

func (Synthesize) inbound()          {}
func (SynthesizeDelta) inbound()     {}
func (SetTTSEnabled) inbound()       {}
func (SetTTSMuted) inbound()         {}
func (SetVoice) inbound()            {}
func (SetSpeed) inbound()            {}
func (SetWakeWordSettings) inbound() {}
func (GetSettings) inbound()         {}
func (GetVoices) inbound()           {}
func (GetWakeWordModels) inbound()   {}
func (StopSpeaking) inbound()        {}
func (SetProcessing) inbound()       {}
func (SetListening) inbound()        {}

const (
	TypeSynthesize          = "synthesize"
	TypeSynthesizeDelta     = "synthesize_delta"
	TypeSetTTSEnabled       = "set_tts_enabled"
	TypeSetTTSMuted         = "set_tts_muted"
	TypeSetVoice            = "set_voice"
	TypeSetSpeed            = "set_speed"
	TypeSetWakeWordSettings = "set_wakeword_settings"
	TypeGetSettings         = "get_settings"
	TypeGetVoices           = "get_voices"
	TypeGetWakeWordModels   = "get_wakeword_models"
	TypeStopSpeaking        = "stop_speaking"
	TypeSetProcessing       = "set_processing"
	TypeSetListening        = "set_listening"
)

// wireMessage is the union of all inbound fields. Pointers distinguish
// absent fields so defaults can be applied.
type wireMessage struct {
	Type           string   `json:"type"`
	Text           string   `json:"text"`
	Delta          string   `json:"delta"`
	MessageID      string   `json:"messageId"`
	IsFinal        bool     `json:"isFinal"`
	Enabled        *bool    `json:"enabled"`
	Muted          *bool    `json:"muted"`
	Voice          string   `json:"voice"`
	Speed          *float64 `json:"speed"`
	Model          *string  `json:"model"`
	Threshold      *float64 `json:"threshold"`
	TimeoutSeconds *int     `json:"timeoutSeconds"`
	Processing     *bool    `json:"processing"`
}

// Decode parses one text frame.
func Decode(data []byte) (Inbound, error) {
	var msg wireMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(msg.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSynthesize:
		return Synthesize{Text: msg.Text, MessageID: msg.MessageID, IsFinal: msg.IsFinal}, nil
	case TypeSynthesizeDelta:
		return SynthesizeDelta{Delta: msg.Delta, MessageID: msg.MessageID, IsFinal: msg.IsFinal}, nil
	case TypeSetTTSEnabled:
		return SetTTSEnabled{Enabled: boolOr(msg.Enabled, true)}, nil
	case TypeSetTTSMuted:
		return SetTTSMuted{Muted: boolOr(msg.Muted, false)}, nil
	case TypeSetVoice:
		return SetVoice{Voice: msg.Voice}, nil
	case TypeSetSpeed:
		speed := 1.0
		if msg.Speed != nil {
			speed = *msg.Speed
		}
		return SetSpeed{Speed: speed}, nil
	case TypeSetWakeWordSettings:
		return SetWakeWordSettings{
			Enabled:        msg.Enabled,
			Model:          msg.Model,
			Threshold:      msg.Threshold,
			TimeoutSeconds: msg.TimeoutSeconds,
		}, nil
	case TypeGetSettings:
		return GetSettings{}, nil
	case TypeGetVoices:
		return GetVoices{}, nil
	case TypeGetWakeWordModels:
		return GetWakeWordModels{}, nil
	case TypeStopSpeaking:
		return StopSpeaking{}, nil
	case TypeSetProcessing:
		return SetProcessing{Processing: boolOr(msg.Processing, false)}, nil
	case TypeSetListening:
		return SetListening{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
