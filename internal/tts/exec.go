package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	output     string
	sampleRate int
	// slots bounds concurrent subprocesses; nil means unbounded.
	slots chan struct{}
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Final      bool   `json:"final"`
}

// NewExecEngine runs an external synthesizer per call. The request is
// written to stdin as JSON. With output "jsonl" the command prints JSON
// lines carrying base64 PCM16; with "wav" it writes a WAV file to the path
// passed after --output. Calls run in parallel unless cfg.MaxConcurrency
// caps the number of live subprocesses.
func NewExecEngine(cfg config.TTSConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	output := cfg.Output
	if output == "" {
		output = "jsonl"
	}
	e := &execEngine{cmd: args, output: output, sampleRate: cfg.SampleRate}
	if cfg.MaxConcurrency > 0 {
		e.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return e, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req Request) (AudioSegment, error) {
	if e.slots != nil {
		select {
		case e.slots <- struct{}{}:
			defer func() { <-e.slots }()
		case <-ctx.Done():
			return AudioSegment{}, ctx.Err()
		}
	}

	payload, err := sonic.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Speed:      req.Speed,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		return AudioSegment{}, err
	}

	if e.output == "wav" {
		return e.synthesizeWAV(ctx, payload)
	}
	return e.synthesizeLines(ctx, payload)
}

func (e *execEngine) synthesizeLines(ctx context.Context, payload []byte) (AudioSegment, error) {
	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return AudioSegment{}, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}

	var pcm []byte
	sampleRate := e.sampleRate
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := sonic.Unmarshal(line, &resp); err != nil {
			return AudioSegment{}, fmt.Errorf("decode tts response: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return AudioSegment{}, fmt.Errorf("decode tts audio: %w", err)
		}
		if resp.SampleRate > 0 {
			sampleRate = resp.SampleRate
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return AudioSegment{}, fmt.Errorf("read tts output: %w", err)
	}
	return FromPCM(pcm, sampleRate), nil
}

func (e *execEngine) synthesizeWAV(ctx context.Context, payload []byte) (AudioSegment, error) {
	file, err := os.CreateTemp(os.TempDir(), "loqa_tts_*.wav")
	if err != nil {
		return AudioSegment{}, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	args := append(append([]string{}, e.cmd[1:]...), "--output", path)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	command.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return AudioSegment{}, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}

	in, err := os.Open(path)
	if err != nil {
		return AudioSegment{}, fmt.Errorf("open tts output: %w", err)
	}
	defer in.Close()
	return DecodeWAV(in)
}
