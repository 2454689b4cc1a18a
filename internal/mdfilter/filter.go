// Package mdfilter strips markdown that should not be read aloud. Fenced
// code blocks are replaced by a short spoken announcement and state is
// carried across chunks so a fence split between two sentences is still
// recognised.
package mdfilter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	AnnounceDiagram = "Here's a diagram."
	AnnounceCode    = "Here's a code snippet."
)

var fencePattern = regexp.MustCompile("```(\\w*)")

// Filter holds the fence state of one logical response. Call Reset before
// reusing it for a new response. It is not safe for concurrent use.
type Filter struct {
	inCodeBlock bool
	inMermaid   bool
	announced   bool
	pending     string
}

func New() *Filter { return &Filter{} }

func (f *Filter) Reset() {
	f.inCodeBlock = false
	f.inMermaid = false
	f.announced = false
	f.pending = ""
}

func (f *Filter) InCodeBlock() bool { return f.inCodeBlock }

// InMermaid reports whether the open block is a mermaid diagram.
func (f *Filter) InMermaid() bool { return f.inMermaid }

// Filter returns the speakable form of text, an announcement for a newly
// opened code block, or false when nothing should be spoken.
func (f *Filter) Filter(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if f.pending != "" {
		text = f.pending + text
		f.pending = ""
	}

	if n := trailingBackticks(text); n > 0 && n < 3 {
		f.pending = text[len(text)-n:]
		text = text[:len(text)-n]
	}

	startedInBlock := f.inCodeBlock
	var (
		parts        []string
		announcement string
		last         int
	)
	fences := fencePattern.FindAllStringSubmatchIndex(text, -1)
	for _, m := range fences {
		if !f.inCodeBlock {
			if !startedInBlock {
				if before := strings.TrimSpace(text[last:m[0]]); before != "" {
					parts = append(parts, before)
				}
			}
			f.inCodeBlock = true
			f.inMermaid = strings.EqualFold(text[m[2]:m[3]], "mermaid")
			if !f.announced {
				if f.inMermaid {
					announcement = AnnounceDiagram
				} else {
					announcement = AnnounceCode
				}
				f.announced = true
			}
		} else {
			f.inCodeBlock = false
			f.inMermaid = false
			f.announced = false
		}
		last = m[1]
	}
	if !f.inCodeBlock {
		if rest := strings.TrimSpace(text[last:]); rest != "" {
			parts = append(parts, rest)
		}
	}

	if startedInBlock && len(fences) == 0 {
		return "", false
	}
	if len(parts) == 0 {
		if announcement != "" {
			return announcement, true
		}
		return "", false
	}

	spoken := StripInline(strings.Join(parts, " "))
	switch {
	case spoken == "" && announcement == "":
		return "", false
	case spoken == "":
		return announcement, true
	case announcement != "":
		return announcement + " " + spoken, true
	default:
		return spoken, true
	}
}

func trailingBackticks(text string) int {
	n := 0
	for i := len(text) - 1; i >= 0 && text[i] == '`'; i-- {
		n++
	}
	return n
}

var (
	imagePattern       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	linkPattern        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	inlineCodePattern  = regexp.MustCompile("`([^`]+)`")
	boldStarPattern    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderPattern   = regexp.MustCompile(`__([^_]+)__`)
	italicStarPattern  = regexp.MustCompile(`\*([^*]+)\*`)
	italicUnderPattern = regexp.MustCompile(`_([^_]+)_`)
	strikePattern      = regexp.MustCompile(`~~([^~]+)~~`)
	headingPattern     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletPattern      = regexp.MustCompile(`(?m)^[-*+]\s+`)
	numberedPattern    = regexp.MustCompile(`(?m)^\d+\.\s+`)
	quotePattern       = regexp.MustCompile(`(?m)^>\s*`)
	rulePattern        = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
)

// StripInline removes inline markdown from plain text and collapses
// whitespace.
func StripInline(text string) string {
	text = imagePattern.ReplaceAllString(text, "Here is an image: $1.")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = replaceGuarded(inlineCodePattern, text, notAdjacent('`'))
	text = boldStarPattern.ReplaceAllString(text, "$1")
	text = boldUnderPattern.ReplaceAllString(text, "$1")
	text = replaceGuarded(italicStarPattern, text, notInWord)
	text = replaceGuarded(italicUnderPattern, text, notInWord)
	text = strikePattern.ReplaceAllString(text, "$1")
	text = headingPattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "")
	text = numberedPattern.ReplaceAllString(text, "")
	text = quotePattern.ReplaceAllString(text, "")
	text = rulePattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// guard decides whether the match text[start:end] may be replaced.
type guard func(text string, start, end int) bool

func notAdjacent(c byte) guard {
	return func(text string, start, end int) bool {
		if start > 0 && text[start-1] == c {
			return false
		}
		if end < len(text) && text[end] == c {
			return false
		}
		return true
	}
}

func notInWord(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// replaceGuarded replaces each match of re with its first group when ok
// accepts the surrounding characters. A rejected match is retried one byte
// further on, which is how a lookaround would behave.
func replaceGuarded(re *regexp.Regexp, text string, ok guard) string {
	var b strings.Builder
	pos, copied := 0, 0
	for pos <= len(text) {
		loc := re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if !ok(text, start, end) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + max(size, 1)
			continue
		}
		b.WriteString(text[copied:start])
		b.WriteString(text[pos+loc[2] : pos+loc[3]])
		copied, pos = end, end
	}
	if copied == 0 {
		return text
	}
	b.WriteString(text[copied:])
	return b.String()
}
