package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	TTS         TTSConfig         `yaml:"tts"`
	WakeWord    WakeWordConfig    `yaml:"wakeword"`
	Sentencizer SentencizerConfig `yaml:"sentencizer"`
	Session     SessionConfig     `yaml:"session"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TTSConfig struct {
	Mode           string            `yaml:"mode"` // mock, exec
	Command        string            `yaml:"command"`
	Output         string            `yaml:"output"` // jsonl, wav
	Voice          string            `yaml:"voice"`
	Speed          float64           `yaml:"speed"`
	SampleRate     int               `yaml:"sample_rate"`
	Voices         map[string]string `yaml:"voices"`
	SynthTimeoutMS int               `yaml:"synth_timeout_ms"`
	PacingMS       int               `yaml:"pacing_ms"`
	MaxConcurrency int               `yaml:"max_concurrency"`
}

type WakeWordConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Mode           string   `yaml:"mode"` // energy, exec
	Command        string   `yaml:"command"`
	Model          string   `yaml:"model"`
	Models         []string `yaml:"models"`
	Threshold      float64  `yaml:"threshold"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	DebounceMS     int      `yaml:"debounce_ms"`
	SampleRate     int      `yaml:"sample_rate"`
	ScoreTimeoutMS int      `yaml:"score_timeout_ms"`
}

type SentencizerConfig struct {
	MinSentenceLength int `yaml:"min_sentence_length"`
	MinClauseLength   int `yaml:"min_clause_length"`
	MaxBufferLength   int `yaml:"max_buffer_length"`
}

type SessionConfig struct {
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	WriteTimeoutMS  int   `yaml:"write_timeout_ms"`
	PingIntervalMS  int   `yaml:"ping_interval_ms"`
	OutboundBuffer  int   `yaml:"outbound_buffer"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 4202,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-voice-1",
			Role:              "voice",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-voice-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxSessions:   1000,
		},
		TTS: TTSConfig{
			Mode:           "mock",
			Output:         "jsonl",
			Voice:          "af_heart",
			Speed:          1.1,
			SampleRate:     24000,
			SynthTimeoutMS: 30000,
			PacingMS:       10,
		},
		WakeWord: WakeWordConfig{
			Enabled:        false,
			Mode:           "energy",
			Model:          "hey_jarvis",
			Models:         []string{"hey_jarvis", "alexa", "hey_mycroft", "hey_rhasspy"},
			Threshold:      0.5,
			TimeoutSeconds: 10,
			DebounceMS:     1000,
			SampleRate:     16000,
			ScoreTimeoutMS: 500,
		},
		Sentencizer: SentencizerConfig{
			MinSentenceLength: 10,
			MinClauseLength:   30,
			MaxBufferLength:   500,
		},
		Session: SessionConfig{
			MaxMessageBytes: 1 << 20,
			WriteTimeoutMS:  5000,
			PingIntervalMS:  20000,
			OutboundBuffer:  64,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Output, "LOQA_TTS_OUTPUT")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideFloat(&cfg.TTS.Speed, "LOQA_TTS_SPEED")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.SynthTimeoutMS, "LOQA_TTS_SYNTH_TIMEOUT_MS")
	overrideInt(&cfg.TTS.PacingMS, "LOQA_TTS_PACING_MS")
	overrideInt(&cfg.TTS.MaxConcurrency, "LOQA_TTS_MAX_CONCURRENCY")
	overrideBool(&cfg.WakeWord.Enabled, "LOQA_WAKEWORD_ENABLED")
	overrideString(&cfg.WakeWord.Mode, "LOQA_WAKEWORD_MODE")
	overrideString(&cfg.WakeWord.Command, "LOQA_WAKEWORD_COMMAND")
	overrideString(&cfg.WakeWord.Model, "LOQA_WAKEWORD_MODEL")
	overrideStringSlice(&cfg.WakeWord.Models, "LOQA_WAKEWORD_MODELS")
	overrideFloat(&cfg.WakeWord.Threshold, "LOQA_WAKEWORD_THRESHOLD")
	overrideInt(&cfg.WakeWord.TimeoutSeconds, "LOQA_WAKEWORD_TIMEOUT_SECONDS")
	overrideInt(&cfg.WakeWord.DebounceMS, "LOQA_WAKEWORD_DEBOUNCE_MS")
	overrideInt(&cfg.WakeWord.SampleRate, "LOQA_WAKEWORD_SAMPLE_RATE")
	overrideInt(&cfg.WakeWord.ScoreTimeoutMS, "LOQA_WAKEWORD_SCORE_TIMEOUT_MS")
	overrideInt(&cfg.Sentencizer.MinSentenceLength, "LOQA_SENTENCIZER_MIN_SENTENCE_LENGTH")
	overrideInt(&cfg.Sentencizer.MinClauseLength, "LOQA_SENTENCIZER_MIN_CLAUSE_LENGTH")
	overrideInt(&cfg.Sentencizer.MaxBufferLength, "LOQA_SENTENCIZER_MAX_BUFFER_LENGTH")
	overrideInt64(&cfg.Session.MaxMessageBytes, "LOQA_SESSION_MAX_MESSAGE_BYTES")
	overrideInt(&cfg.Session.WriteTimeoutMS, "LOQA_SESSION_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Session.PingIntervalMS, "LOQA_SESSION_PING_INTERVAL_MS")
	overrideInt(&cfg.Session.OutboundBuffer, "LOQA_SESSION_OUTBOUND_BUFFER")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first invalid setting in cfg.
func Validate(cfg Config) error { return validate(cfg) }

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout < cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must not be shorter than the heartbeat interval")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" {
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		switch cfg.TTS.Output {
		case "jsonl", "wav":
		default:
			return errors.New("tts.output must be one of jsonl|wav")
		}
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	if len(cfg.TTS.Voices) > 0 {
		if _, ok := cfg.TTS.Voices[cfg.TTS.Voice]; !ok {
			return fmt.Errorf("tts.voice %q is not listed in tts.voices", cfg.TTS.Voice)
		}
	}
	if cfg.TTS.Speed <= 0 {
		return errors.New("tts.speed must be positive")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.SynthTimeoutMS <= 0 {
		return errors.New("tts.synth_timeout_ms must be positive")
	}
	if cfg.TTS.PacingMS < 0 {
		return errors.New("tts.pacing_ms must be >= 0")
	}
	if cfg.TTS.MaxConcurrency < 0 {
		return errors.New("tts.max_concurrency must be >= 0")
	}
	switch cfg.WakeWord.Mode {
	case "energy", "exec":
	default:
		return errors.New("wakeword.mode must be one of energy|exec")
	}
	if cfg.WakeWord.Mode == "exec" && cfg.WakeWord.Command == "" {
		return errors.New("wakeword.command must be set when mode=exec")
	}
	if len(cfg.WakeWord.Models) == 0 {
		return errors.New("wakeword.models must not be empty")
	}
	if cfg.WakeWord.Threshold < 0 || cfg.WakeWord.Threshold > 1 {
		return errors.New("wakeword.threshold must be between 0 and 1")
	}
	if cfg.WakeWord.TimeoutSeconds <= 0 {
		return errors.New("wakeword.timeout_seconds must be positive")
	}
	if cfg.WakeWord.DebounceMS < 0 {
		return errors.New("wakeword.debounce_ms must be >= 0")
	}
	if cfg.WakeWord.SampleRate <= 0 {
		return errors.New("wakeword.sample_rate must be positive")
	}
	if cfg.WakeWord.ScoreTimeoutMS <= 0 {
		return errors.New("wakeword.score_timeout_ms must be positive")
	}
	if cfg.Sentencizer.MinSentenceLength < 0 || cfg.Sentencizer.MinClauseLength < 0 {
		return errors.New("sentencizer lengths must be >= 0")
	}
	if cfg.Sentencizer.MaxBufferLength <= cfg.Sentencizer.MinSentenceLength {
		return errors.New("sentencizer.max_buffer_length must be greater than min_sentence_length")
	}
	if cfg.Session.MaxMessageBytes <= 0 {
		return errors.New("session.max_message_bytes must be positive")
	}
	if cfg.Session.OutboundBuffer <= 0 {
		return errors.New("session.outbound_buffer must be positive")
	}
	return nil
}
