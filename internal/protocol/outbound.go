package protocol

import "github.com/bytedance/sonic"

const (
	EventConnected        = "connected"
	EventDisconnected     = "disconnected"
	EventTTSStart         = "tts_start"
	EventTTSAudio         = "tts_audio"
	EventTTSComplete      = "tts_complete"
	EventError            = "error"
	EventVoiceChanged     = "voice_changed"
	EventSettings         = "settings"
	EventVoices           = "voices"
	EventWakeWordModels   = "wakeword_models"
	EventWakeWordSettings = "wakeword_settings"
	EventWakeStatus       = "wake_status"
)

// Event is an outbound message.
type Event interface {
	EventType() string
}

type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type TTSStart struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// TTSAudio carries base64 little-endian PCM16. Duration is in seconds.
type TTSAudio struct {
	Type       string  `json:"type"`
	Audio      string  `json:"audio"`
	SampleRate int     `json:"sampleRate"`
	Duration   float64 `json:"duration"`
	MessageID  string  `json:"messageId"`
}

type TTSComplete struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type VoiceChanged struct {
	Type  string `json:"type"`
	Voice string `json:"voice"`
}

type TTSSettings struct {
	Enabled bool              `json:"enabled"`
	Muted   bool              `json:"muted"`
	Voice   string            `json:"voice"`
	Speed   float64           `json:"speed"`
	Voices  map[string]string `json:"voices"`
}

type WakeWordSettings struct {
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model"`
	Threshold      float64 `json:"threshold"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
	DebounceMS     int     `json:"debounceMs"`
	State          string  `json:"state"`
}

type Settings struct {
	Type     string           `json:"type"`
	TTS      TTSSettings      `json:"tts"`
	WakeWord WakeWordSettings `json:"wakeword"`
}

type Voices struct {
	Type   string            `json:"type"`
	Voices map[string]string `json:"voices"`
}

type WakeWordModels struct {
	Type   string   `json:"type"`
	Models []string `json:"models"`
}

// WakeWordSettingsChanged confirms set_wakeword_settings with the applied
// values inlined next to the type tag.
type WakeWordSettingsChanged struct {
	Type string `json:"type"`
	WakeWordSettings
}

type WakeStatus struct {
	Type       string   `json:"type"`
	State      string   `json:"state"`
	Detected   *bool    `json:"detected,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (Connected) EventType() string               { return EventConnected }
func (TTSStart) EventType() string                { return EventTTSStart }
func (TTSAudio) EventType() string                { return EventTTSAudio }
func (TTSComplete) EventType() string             { return EventTTSComplete }
func (Error) EventType() string                   { return EventError }
func (VoiceChanged) EventType() string            { return EventVoiceChanged }
func (Settings) EventType() string                { return EventSettings }
func (Voices) EventType() string                  { return EventVoices }
func (WakeWordModels) EventType() string          { return EventWakeWordModels }
func (WakeWordSettingsChanged) EventType() string { return EventWakeWordSettings }
func (WakeStatus) EventType() string              { return EventWakeStatus }

func NewConnected(sessionID string) Connected {
	return Connected{Type: EventConnected, SessionID: sessionID}
}

func NewTTSStart(messageID string) TTSStart {
	return TTSStart{Type: EventTTSStart, MessageID: messageID}
}

func NewTTSAudio(audio string, sampleRate int, seconds float64, messageID string) TTSAudio {
	return TTSAudio{Type: EventTTSAudio, Audio: audio, SampleRate: sampleRate, Duration: seconds, MessageID: messageID}
}

func NewTTSComplete(messageID string) TTSComplete {
	return TTSComplete{Type: EventTTSComplete, MessageID: messageID}
}

func NewError(message string) Error {
	return Error{Type: EventError, Error: message}
}

func NewVoiceChanged(voice string) VoiceChanged {
	return VoiceChanged{Type: EventVoiceChanged, Voice: voice}
}

func NewSettings(tts TTSSettings, wake WakeWordSettings) Settings {
	return Settings{Type: EventSettings, TTS: tts, WakeWord: wake}
}

func NewVoices(voices map[string]string) Voices {
	return Voices{Type: EventVoices, Voices: voices}
}

func NewWakeWordModels(models []string) WakeWordModels {
	return WakeWordModels{Type: EventWakeWordModels, Models: models}
}

func NewWakeWordSettingsChanged(settings WakeWordSettings) WakeWordSettingsChanged {
	return WakeWordSettingsChanged{Type: EventWakeWordSettings, WakeWordSettings: settings}
}

func NewWakeStatus(state string) WakeStatus {
	return WakeStatus{Type: EventWakeStatus, State: state}
}

// NewWakeDetected reports a wake word detection.
func NewWakeDetected(state string, confidence float64) WakeStatus {
	detected := true
	return WakeStatus{Type: EventWakeStatus, State: state, Detected: &detected, Confidence: &confidence}
}

// Encode marshals an outbound event.
func Encode(ev Event) ([]byte, error) {
	return sonic.Marshal(ev)
}
