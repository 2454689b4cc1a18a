package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/mdfilter"
	"github.com/loqalabs/loqa-voice/internal/runtime"
	"github.com/loqalabs/loqa-voice/internal/sentencizer"
	"github.com/loqalabs/loqa-voice/internal/tts"
)

var version = "0.1.0-dev"

const usage = "expected 'validate', 'speak', 'voices', 'sessions' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "speak":
		err = runSpeak(os.Args[2:])
	case "voices":
		err = runVoices(os.Args[2:])
	case "sessions":
		err = runSessions(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("file", "loqa-voice.yaml", "Path to configuration file")
	_ = fs.Parse(args)
	if _, err := config.Load(*path); err != nil {
		return err
	}
	fmt.Println("config valid")
	return nil
}

// runSpeak streams text through the sentencizer and markdown filter word by
// word, the way synthesize_delta traffic arrives, and synthesizes each unit.
func runSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	path := fs.String("config", "", "Path to configuration file (defaults when empty)")
	voice := fs.String("voice", "", "Voice id (config default when empty)")
	speed := fs.Float64("speed", 0, "Speech speed (config default when zero)")
	wavPath := fs.String("wav", "", "Write the synthesized audio to this WAV file")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("speak: no text given")
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	engine, err := runtime.NewEngine(cfg.TTS)
	if err != nil {
		return err
	}
	if *voice == "" {
		*voice = cfg.TTS.Voice
	}
	if *speed == 0 {
		*speed = cfg.TTS.Speed
	}
	client, err := tts.NewClient(engine, tts.NewCatalog(cfg.TTS.Voices), *voice, *speed)
	if err != nil {
		return err
	}

	stream := sentencizer.New(sentencizer.Options{
		MinSentenceLength: cfg.Sentencizer.MinSentenceLength,
		MinClauseLength:   cfg.Sentencizer.MinClauseLength,
		MaxBufferLength:   cfg.Sentencizer.MaxBufferLength,
	})
	var units []string
	for _, word := range strings.SplitAfter(text, " ") {
		for token := word; ; token = "" {
			unit, ok := stream.AddToken(token)
			if !ok {
				break
			}
			units = append(units, unit)
		}
	}
	if unit, ok := stream.Flush(); ok {
		units = append(units, unit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TTS.SynthTimeoutMS)*time.Millisecond*time.Duration(len(units)+1))
	defer cancel()

	filter := mdfilter.New()
	var samples []int16
	sampleRate := cfg.TTS.SampleRate
	for i, unit := range units {
		spoken, ok := filter.Filter(unit)
		if !ok {
			fmt.Printf("%2d  (skipped)  %q\n", i+1, unit)
			continue
		}
		seg, err := client.Synthesize(ctx, spoken)
		if err != nil {
			return fmt.Errorf("TTS failed: %w", err)
		}
		fmt.Printf("%2d  %6.2fs  %q\n", i+1, seg.Duration.Seconds(), spoken)
		samples = append(samples, seg.Samples...)
		sampleRate = seg.SampleRate
	}

	if *wavPath == "" {
		return nil
	}
	f, err := os.Create(*wavPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := tts.WriteWAV(f, tts.NewAudioSegment(samples, sampleRate)); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *wavPath)
	return nil
}

func runVoices(args []string) error {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	path := fs.String("config", "", "Path to configuration file (defaults when empty)")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	for _, v := range tts.NewCatalog(cfg.TTS.Voices).List() {
		marker := " "
		if v.ID == cfg.TTS.Voice {
			marker = "*"
		}
		fmt.Printf("%s %-12s %s\n", marker, v.ID, v.Description)
	}
	models := append([]string(nil), cfg.WakeWord.Models...)
	sort.Strings(models)
	fmt.Printf("wake word models: %s\n", strings.Join(models, ", "))
	return nil
}

func runSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	path := fs.String("config", "", "Path to configuration file (defaults when empty)")
	sessionID := fs.String("session", "", "Print the event timeline of this session")
	limit := fs.Int("limit", 20, "Maximum rows to print")
	_ = fs.Parse(args)
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if cfg.EventStore.RetentionMode == "ephemeral" {
		return fmt.Errorf("event store is ephemeral; nothing is recorded")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if *sessionID != "" {
		events, err := store.ListSessionEvents(ctx, *sessionID, *limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Printf("%s  %-14s %-10s %s\n", e.CreatedAt.Format(time.RFC3339Nano), e.Type, e.MessageID, e.Detail)
		}
		return nil
	}
	sessions, err := store.ListSessions(ctx, *limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		ended := "active"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-14s %s  %s\n", s.ID, s.NodeID, s.CreatedAt.Format(time.RFC3339), ended)
	}
	return nil
}
