package sentencizer

import (
	"reflect"
	"strings"
	"testing"
)

func feed(s *Sentencizer, tokens []string) []string {
	var units []string
	for _, tok := range tokens {
		if unit, ok := s.AddToken(tok); ok {
			units = append(units, unit)
		}
	}
	if unit, ok := s.Flush(); ok {
		units = append(units, unit)
	}
	return units
}

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }

func TestUnitsReassembleInput(t *testing.T) {
	inputs := [][]string{
		{"Hello", " there", ".", " This is", " a longer sentence", " that keeps", " going, and going;", " then stops!", " Done?"},
		{"Dr", ".", " Smith", " measured 3", ".", "14 units", " at 5 p.m. today.", " Next."},
		{strings.Repeat("word ", 150)},
		{"no punctuation at all"},
	}
	for _, tokens := range inputs {
		s := New(DefaultOptions())
		units := feed(s, tokens)
		got := normalize(strings.Join(units, " "))
		want := normalize(strings.Join(tokens, ""))
		if got != want {
			t.Fatalf("reassembled %q, want %q", got, want)
		}
		if s.Buffered() != "" {
			t.Fatalf("expected empty buffer after flush, got %q", s.Buffered())
		}
	}
}

func TestAbbreviationDoesNotSplit(t *testing.T) {
	s := New(DefaultOptions())
	if unit, ok := s.AddToken("Dr"); ok {
		t.Fatalf("unexpected unit %q", unit)
	}
	if unit, ok := s.AddToken("."); ok {
		t.Fatalf("unexpected unit at abbreviation: %q", unit)
	}
	unit, ok := s.AddToken(" Smith arrived.")
	if !ok || unit != "Dr. Smith arrived." {
		t.Fatalf("expected full sentence, got %q (%v)", unit, ok)
	}
}

func TestAbbreviationNeedsWordBoundary(t *testing.T) {
	if !endsWithAbbreviation([]rune("see Mrs."), 8) {
		t.Fatal("expected Mrs. to be an abbreviation")
	}
	if endsWithAbbreviation([]rune("the word"), 8) {
		t.Fatal("plain word matched an abbreviation")
	}
	if endsWithAbbreviation([]rune("a third."), 8) {
		t.Fatal("suffix inside a word matched an abbreviation")
	}
}

func TestDecimalDoesNotSplit(t *testing.T) {
	s := New(DefaultOptions())
	var units []string
	for _, r := range "the value is 3.14 exactly." {
		if unit, ok := s.AddToken(string(r)); ok {
			units = append(units, unit)
		}
	}
	if !reflect.DeepEqual(units, []string{"the value is 3.14 exactly."}) {
		t.Fatalf("unexpected units: %q", units)
	}
}

func TestShortSentenceWaits(t *testing.T) {
	s := New(DefaultOptions())
	if unit, ok := s.AddToken("Hi."); ok {
		t.Fatalf("short sentence yielded %q", unit)
	}
	unit, ok := s.AddToken(" How are you?")
	if !ok || unit != "Hi. How are you?" {
		t.Fatalf("expected combined sentence, got %q (%v)", unit, ok)
	}
}

func TestClauseBoundary(t *testing.T) {
	s := New(DefaultOptions())
	unit, ok := s.AddToken("This clause keeps going for quite a while, and more")
	if !ok || unit != "This clause keeps going for quite a while," {
		t.Fatalf("expected clause, got %q (%v)", unit, ok)
	}
	if s.Buffered() != "and more" {
		t.Fatalf("unexpected remainder %q", s.Buffered())
	}
}

func TestShortClauseIsAbsorbed(t *testing.T) {
	s := New(DefaultOptions())
	if unit, ok := s.AddToken("Well, then"); ok {
		t.Fatalf("short clause yielded %q", unit)
	}
}

func TestForceSplitOnLongBuffer(t *testing.T) {
	opts := DefaultOptions()
	s := New(opts)
	text := strings.Repeat("abcd ", 120)
	forced := false
	for _, r := range text {
		unit, ok := s.AddToken(string(r))
		if !ok {
			continue
		}
		forced = true
		if n := len([]rune(unit)); n >= opts.MaxBufferLength {
			t.Fatalf("unit too long: %d", n)
		}
		if n := len([]rune(s.Buffered())); n >= opts.MaxBufferLength {
			t.Fatalf("retained buffer %d not below max %d", n, opts.MaxBufferLength)
		}
		break
	}
	if !forced {
		t.Fatal("expected a forced split")
	}
}

func TestForceSplitDrainsOversizedToken(t *testing.T) {
	opts := DefaultOptions()
	s := New(opts)
	token := strings.Repeat("abcd ", 300)

	unit, ok := s.AddToken(token)
	if !ok {
		t.Fatal("expected a forced split")
	}
	units := []string{unit}
	if n := len([]rune(s.Buffered())); n <= opts.MaxBufferLength {
		t.Fatalf("expected one call to leave an oversized buffer, got %d", n)
	}
	for {
		unit, ok := s.AddToken("")
		if !ok {
			break
		}
		units = append(units, unit)
	}
	for _, u := range units {
		if n := len([]rune(u)); n >= opts.MaxBufferLength {
			t.Fatalf("unit too long: %d", n)
		}
	}
	if n := len([]rune(s.Buffered())); n > opts.MaxBufferLength {
		t.Fatalf("retained buffer %d above max %d after draining", n, opts.MaxBufferLength)
	}
	rest, _ := s.Flush()
	if got := strings.Join(append(units, rest), " "); got != strings.TrimSpace(token) {
		t.Fatal("drained units do not reassemble the token")
	}
}

func TestFlushAndReset(t *testing.T) {
	s := New(DefaultOptions())
	if _, ok := s.Flush(); ok {
		t.Fatal("flush of empty buffer returned a unit")
	}
	s.AddToken("   ")
	if _, ok := s.Flush(); ok {
		t.Fatal("flush of whitespace returned a unit")
	}
	s.AddToken("partial text")
	s.Reset()
	if _, ok := s.Flush(); ok {
		t.Fatal("flush after reset returned a unit")
	}
	for i := 0; i < 3; i++ {
		s.AddToken("again and again")
		if unit, ok := s.Flush(); !ok || unit != "again and again" {
			t.Fatalf("restart %d: got %q", i, unit)
		}
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello there. How are you?  Fine!", []string{"Hello there.", "How are you?", "Fine!"}},
		{"Pi is 3.14 roughly.", []string{"Pi is 3.14 roughly."}},
		{"One.\nTwo!\tThree", []string{"One.", "Two!", "Three"}},
		{"   ", nil},
		{"", nil},
	}
	for _, tc := range cases {
		if got := Split(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Split(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
