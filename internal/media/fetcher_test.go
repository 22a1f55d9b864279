package media

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFlexibleIntAcceptsIntOrFloat(t *testing.T) {
	var a, b FlexibleInt
	if err := json.Unmarshal([]byte("8"), &a); err != nil || a != 8 {
		t.Fatalf("int case: a=%v err=%v", a, err)
	}
	if err := json.Unmarshal([]byte("8.171"), &b); err != nil || b != 8 {
		t.Fatalf("float case: b=%v err=%v", b, err)
	}
}

func TestFlexibleIntAcceptsNull(t *testing.T) {
	var f FlexibleInt = 42
	if err := json.Unmarshal([]byte("null"), &f); err != nil || f != 0 {
		t.Fatalf("null case: f=%v err=%v", f, err)
	}
}

func TestResolutionAcceptsNullOrString(t *testing.T) {
	var r Resolution
	if err := json.Unmarshal([]byte(`"1920x1080"`), &r); err != nil || r != "1920x1080" {
		t.Fatalf("string case: r=%v err=%v", r, err)
	}
	if err := json.Unmarshal([]byte("null"), &r); err != nil || r != "" {
		t.Fatalf("null case: r=%v err=%v", r, err)
	}
}

func TestSubtitleErrorUnwrapsToSentinel(t *testing.T) {
	err := &SubtitleError{Path: "/tmp/video.mp4", Err: errors.New("404")}
	if !errors.Is(err, ErrSubtitleUnavailable) {
		t.Fatal("SubtitleError should unwrap to ErrSubtitleUnavailable")
	}
}

func TestScanLinesCROrLFSplitsOnEitherTerminator(t *testing.T) {
	input := []byte("one\rtwo\nthree\r\nfour")
	var lines []string
	data := input
	for len(data) > 0 {
		advance, token, err := scanLinesCROrLF(data, false)
		if err != nil {
			t.Fatal(err)
		}
		if advance == 0 {
			advance, token, _ = scanLinesCROrLF(data, true)
		}
		lines = append(lines, string(token))
		data = data[advance:]
	}

	want := []string{"one", "two", "three", "four"}
	if len(lines) != len(want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
