// Package sentencizer turns a stream of generated tokens into speakable
// units: sentences, long clauses, or forced splits of runaway text.
package sentencizer

import (
	"regexp"
	"strings"
	"unicode"
)

// Options are character (rune) counts.
type Options struct {
	MinSentenceLength int
	MinClauseLength   int
	MaxBufferLength   int
}

func DefaultOptions() Options {
	return Options{
		MinSentenceLength: 10,
		MinClauseLength:   30,
		MaxBufferLength:   500,
	}
}

var abbreviations = func() [][]rune {
	list := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.", "sr.", "jr.",
		"vs.", "etc.", "e.g.", "i.e.", "no.", "nos.",
		"st.", "ave.", "blvd.", "rd.", "apt.", "dept.",
		"inc.", "ltd.", "corp.", "co.",
		"a.m.", "p.m.", "a.d.", "b.c.",
		"ph.d.", "m.d.", "b.a.", "m.a.",
		"u.s.", "u.k.", "u.n.",
	}
	out := make([][]rune, len(list))
	for i, a := range list {
		out[i] = []rune(a)
	}
	return out
}()

// Sentencizer buffers tokens until a unit boundary is found. It is not safe
// for concurrent use.
type Sentencizer struct {
	opts   Options
	buffer []rune
}

func New(opts Options) *Sentencizer {
	return &Sentencizer{opts: opts}
}

func (s *Sentencizer) Options() Options { return s.opts }

// Buffered returns the text still waiting for a boundary.
func (s *Sentencizer) Buffered() string { return string(s.buffer) }

// AddToken appends token and returns a unit when one is ready. A call cuts
// at most one unit, so a token much longer than MaxBufferLength can leave
// more than MaxBufferLength runes buffered; callers drain by calling
// AddToken("") until it returns false.
func (s *Sentencizer) AddToken(token string) (string, bool) {
	s.buffer = append(s.buffer, []rune(token)...)

	if boundary, ok := s.sentenceBoundary(); ok {
		if boundary >= s.opts.MinSentenceLength {
			return s.cut(boundary)
		}
	}

	if len(s.buffer) >= s.opts.MinClauseLength {
		if boundary, ok := s.clauseBoundary(); ok && boundary >= s.opts.MinClauseLength {
			return s.cut(boundary)
		}
	}

	if len(s.buffer) > s.opts.MaxBufferLength {
		if split := s.lastSpaceBefore(s.opts.MaxBufferLength); split >= s.opts.MinSentenceLength && split > 0 {
			return s.cut(split)
		}
	}

	return "", false
}

// Flush returns whatever is left and clears the buffer.
func (s *Sentencizer) Flush() (string, bool) {
	rest := strings.TrimSpace(string(s.buffer))
	s.buffer = s.buffer[:0]
	if rest == "" {
		return "", false
	}
	return rest, true
}

func (s *Sentencizer) Reset() {
	s.buffer = s.buffer[:0]
}

func (s *Sentencizer) cut(offset int) (string, bool) {
	unit := strings.TrimSpace(string(s.buffer[:offset]))
	rest := s.buffer[offset:]
	i := 0
	for i < len(rest) && unicode.IsSpace(rest[i]) {
		i++
	}
	s.buffer = append(s.buffer[:0:0], rest[i:]...)
	if unit == "" {
		return "", false
	}
	return unit, true
}

// sentenceBoundary returns the offset just past the rightmost accepted
// sentence terminator.
func (s *Sentencizer) sentenceBoundary() (int, bool) {
	for i := len(s.buffer) - 1; i >= 0; i-- {
		switch s.buffer[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if endsWithAbbreviation(s.buffer, i+1) {
			continue
		}
		if s.buffer[i] == '.' && i > 0 && unicode.IsDigit(s.buffer[i-1]) {
			continue
		}
		return i + 1, true
	}
	return 0, false
}

func (s *Sentencizer) clauseBoundary() (int, bool) {
	for i := len(s.buffer) - 1; i >= 0; i-- {
		switch s.buffer[i] {
		case ',', ':', ';', '—', '–':
		default:
			continue
		}
		if i+1 == len(s.buffer) || s.buffer[i+1] == ' ' {
			return i + 1, true
		}
	}
	return 0, false
}

func (s *Sentencizer) lastSpaceBefore(limit int) int {
	if limit > len(s.buffer) {
		limit = len(s.buffer)
	}
	for i := limit - 1; i >= 0; i-- {
		if s.buffer[i] == ' ' {
			return i
		}
	}
	return -1
}

// endsWithAbbreviation reports whether buf[:end] ends with a known
// abbreviation that starts on a word boundary.
func endsWithAbbreviation(buf []rune, end int) bool {
	for _, abbr := range abbreviations {
		n := len(abbr)
		if n > end {
			continue
		}
		start := end - n
		matched := true
		for j, r := range abbr {
			if unicode.ToLower(buf[start+j]) != r {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if start == 0 || !unicode.IsLetter(buf[start-1]) {
			return true
		}
	}
	return false
}

var sentenceBreak = regexp.MustCompile(`[.!?]\s+`)

// Split breaks already complete text after sentence punctuation that is
// followed by whitespace. Empty pieces are dropped.
func Split(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(text, -1) {
		if piece := strings.TrimSpace(text[last : loc[0]+1]); piece != "" {
			out = append(out, piece)
		}
		last = loc[1]
	}
	if piece := strings.TrimSpace(text[last:]); piece != "" {
		out = append(out, piece)
	}
	return out
}
