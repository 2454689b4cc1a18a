package mdfilter

import "testing"

func TestFenceAcrossChunks(t *testing.T) {
	f := New()
	got, ok := f.Filter("Explanation: ```python")
	if !ok || got != "Here's a code snippet. Explanation:" {
		t.Fatalf("first chunk: got %q (%v)", got, ok)
	}
	if !f.InCodeBlock() {
		t.Fatal("expected to be inside a code block")
	}
	got, ok = f.Filter("print(1)\n``` done")
	if !ok || got != "done" {
		t.Fatalf("second chunk: got %q (%v)", got, ok)
	}
	if f.InCodeBlock() {
		t.Fatal("expected code block to be closed")
	}
}

func TestPlainTextUnchangedAndIdempotent(t *testing.T) {
	f := New()
	got, ok := f.Filter("plain text")
	if !ok || got != "plain text" {
		t.Fatalf("got %q (%v)", got, ok)
	}
	again, ok := f.Filter(got)
	if !ok || again != got {
		t.Fatalf("second pass changed text: %q", again)
	}
}

func TestBlockBodyIsSuppressed(t *testing.T) {
	f := New()
	if got, ok := f.Filter("```go"); !ok || got != AnnounceCode {
		t.Fatalf("opening fence: got %q (%v)", got, ok)
	}
	if got, ok := f.Filter("fmt.Println(\"hi\")"); ok {
		t.Fatalf("code body leaked: %q", got)
	}
	if got, ok := f.Filter("```"); ok {
		t.Fatalf("bare closing fence produced %q", got)
	}
	if f.InCodeBlock() {
		t.Fatal("expected block closed")
	}
}

func TestMermaidAnnouncement(t *testing.T) {
	f := New()
	got, ok := f.Filter("```Mermaid\ngraph TD")
	if !ok || got != AnnounceDiagram {
		t.Fatalf("got %q (%v)", got, ok)
	}
	if !f.InMermaid() || !f.InCodeBlock() {
		t.Fatal("expected mermaid block state")
	}
	f.Filter("A --> B ```")
	if f.InMermaid() || f.InCodeBlock() {
		t.Fatal("expected mermaid state cleared on exit")
	}
}

func TestMultipleFencesInOneChunk(t *testing.T) {
	f := New()
	got, ok := f.Filter("First ```js\nx()\n``` then ```sh\nls")
	if !ok || got != "Here's a code snippet. First then" {
		t.Fatalf("got %q (%v)", got, ok)
	}
}

func TestSplitFenceBackticks(t *testing.T) {
	f := New()
	got, ok := f.Filter("Look at this ``")
	if !ok || got != "Look at this" {
		t.Fatalf("got %q (%v)", got, ok)
	}
	if f.InCodeBlock() {
		t.Fatal("partial fence must not open a block")
	}
	got, ok = f.Filter("`bash\necho hi")
	if !ok || got != AnnounceCode {
		t.Fatalf("completed fence: got %q (%v)", got, ok)
	}
	if !f.InCodeBlock() {
		t.Fatal("expected to be inside a code block")
	}
}

func TestResetClearsState(t *testing.T) {
	f := New()
	f.Filter("```python")
	f.Reset()
	if f.InCodeBlock() {
		t.Fatal("reset did not clear block state")
	}
	if got, ok := f.Filter("hello again"); !ok || got != "hello again" {
		t.Fatalf("got %q (%v)", got, ok)
	}
}

func TestEmptyInputs(t *testing.T) {
	f := New()
	for _, in := range []string{"", "   ", "\n\n"} {
		if got, ok := f.Filter(in); ok {
			t.Fatalf("Filter(%q) = %q", in, got)
		}
	}
}

func TestStripInline(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"See ![a cat](cat.png) here", "See Here is an image: a cat. here"},
		{"Read [the docs](https://example.com) first", "Read the docs first"},
		{"Run `go test` now", "Run go test now"},
		{"This is **bold** and __strong__", "This is bold and strong"},
		{"This is *soft* and _quiet_", "This is soft and quiet"},
		{"snake_case_name stays", "snake_case_name stays"},
		{"2*3*4 stays", "2*3*4 stays"},
		{"~~gone~~ kept", "gone kept"},
		{"## Heading\nBody", "Heading Body"},
		{"- one\n* two\n+ three", "one two three"},
		{"1. first\n2. second", "first second"},
		{"> quoted\n>also", "quoted also"},
		{"Above\n---\nBelow", "Above Below"},
		{"  lots   of\n\n space  ", "lots of space"},
	}
	for _, tc := range cases {
		if got := StripInline(tc.in); got != tc.want {
			t.Fatalf("StripInline(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
