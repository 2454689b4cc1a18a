package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeSynthesize(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"synthesize","text":"Hello there.","messageId":"m1","isFinal":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := msg.(Synthesize)
	if !ok {
		t.Fatalf("expected Synthesize, got %T", msg)
	}
	if got.Text != "Hello there." || got.MessageID != "m1" || !got.IsFinal {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestDecodeDefaults(t *testing.T) {
	cases := []struct {
		frame string
		want  Inbound
	}{
		{`{"type":"set_tts_enabled"}`, SetTTSEnabled{Enabled: true}},
		{`{"type":"set_tts_enabled","enabled":false}`, SetTTSEnabled{Enabled: false}},
		{`{"type":"set_tts_muted"}`, SetTTSMuted{Muted: false}},
		{`{"type":"set_speed"}`, SetSpeed{Speed: 1.0}},
		{`{"type":"set_speed","speed":1.5}`, SetSpeed{Speed: 1.5}},
		{`{"type":"set_processing"}`, SetProcessing{Processing: false}},
		{`{"type":"set_listening"}`, SetListening{}},
		{`{"type":"stop_speaking"}`, StopSpeaking{}},
		{`{"type":"get_settings"}`, GetSettings{}},
		{`{"type":"get_voices"}`, GetVoices{}},
		{`{"type":"get_wakeword_models"}`, GetWakeWordModels{}},
		{`{"type":"set_voice","voice":"bm_george"}`, SetVoice{Voice: "bm_george"}},
	}
	for _, tc := range cases {
		got, err := Decode([]byte(tc.frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.frame, err)
		}
		if got != tc.want {
			t.Fatalf("Decode(%s) = %#v, want %#v", tc.frame, got, tc.want)
		}
	}
}

func TestDecodeWakeWordSettingsOptionalFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"set_wakeword_settings","enabled":true,"threshold":0.6}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := msg.(SetWakeWordSettings)
	if got.Enabled == nil || !*got.Enabled {
		t.Fatal("expected enabled to be set")
	}
	if got.Threshold == nil || *got.Threshold != 0.6 {
		t.Fatal("expected threshold to be set")
	}
	if got.Model != nil || got.TimeoutSeconds != nil {
		t.Fatal("absent fields must stay nil")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"dance"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, frame := range []string{`{not json`, `{"text":"no type"}`, `[]`} {
		_, err := Decode([]byte(frame))
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("Decode(%s): expected DecodeError, got %v", frame, err)
		}
	}
}

func TestEncodeEvents(t *testing.T) {
	data, err := Encode(NewTTSAudio("AAA=", 24000, 0.5, "m1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "tts_audio" || decoded["sampleRate"] != float64(24000) || decoded["messageId"] != "m1" {
		t.Fatalf("unexpected payload: %s", data)
	}

	data, err = Encode(NewWakeStatus("listening"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded = nil
	_ = json.Unmarshal(data, &decoded)
	if _, ok := decoded["detected"]; ok {
		t.Fatalf("plain wake status must omit detected: %s", data)
	}

	data, err = Encode(NewWakeWordSettingsChanged(WakeWordSettings{Enabled: true, Model: "alexa"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded = nil
	_ = json.Unmarshal(data, &decoded)
	if decoded["type"] != "wakeword_settings" || decoded["model"] != "alexa" {
		t.Fatalf("settings must be inlined: %s", data)
	}
}

func TestDecodePCM16(t *testing.T) {
	samples, err := DecodePCM16([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{1, -1, -32768}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
	if _, err := DecodePCM16([]byte{0x01}); !errors.Is(err, ErrOddPCM) {
		t.Fatalf("expected ErrOddPCM, got %v", err)
	}
}

func TestSessionSubject(t *testing.T) {
	if got := SessionSubject("abc", EventTTSStart); got != "voice.session.abc.tts_start" {
		t.Fatalf("unexpected subject %q", got)
	}
}
