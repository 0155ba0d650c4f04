package cuid2

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestEncodeTimestampBase62(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"Zero timestamp", 0, "000000"},
		{"One second", 1, "000001"},
		{"62 seconds", 62, "000010"},
		{"One minute", 60, "00000y"},
		{"One hour", 3600, "0000w4"},
		{"One day", 86400, "000MTY"},
		{"Unix epoch test", 1704067200, "1rK5iq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := encodeTimestampBase62(tt.seconds)
			if result != tt.expected {
				t.Errorf("encodeTimestampBase62(%d) = %s, want %s", tt.seconds, result, tt.expected)
			}
		})
	}

	result := encodeTimestampBase62(1234567890)
	for _, c := range result {
		if !strings.ContainsRune(base62Alphabet, c) {
			t.Errorf("Result contains non-base62 character: %c in %s", c, result)
		}
	}
}

func TestRandomBase62(t *testing.T) {
	length := 24
	id := randomBase62(length)

	if len(id) != length {
		t.Errorf("Generated ID length = %d, want %d", len(id), length)
	}

	for _, c := range id {
		if !strings.ContainsRune(base62Alphabet, c) {
			t.Errorf("ID contains non-base62 character: %c in %s", c, id)
		}
	}

	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := randomBase62(length)
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestNewFormat(t *testing.T) {
	id := New("task")

	if len(id) != 29 {
		t.Errorf("ID length incorrect: got %d, want 29", len(id))
	}

	matched, _ := regexp.MatchString(`^task_[0-9A-Za-z]{24}$`, id)
	if !matched {
		t.Errorf("ID format doesn't match expected pattern: %s", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	prefixes := []string{"task", "run", "feed", "aud"}

	for i := 0; i < 10000; i++ {
		for _, prefix := range prefixes {
			id := New(prefix)
			if ids[id] {
				t.Errorf("Generated duplicate ID: %s", id)
			}
			ids[id] = true
		}
	}
}

func TestTimeSortability(t *testing.T) {
	id1 := New("task")
	time.Sleep(10 * time.Millisecond)
	id2 := New("task")
	time.Sleep(10 * time.Millisecond)
	id3 := New("task")

	extractTimestamp := func(id string) string {
		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			return ""
		}
		return parts[1][:6]
	}

	timestamp1 := extractTimestamp(id1)
	timestamp2 := extractTimestamp(id2)
	timestamp3 := extractTimestamp(id3)

	if timestamp1 > timestamp2 {
		t.Errorf("Timestamps not sorted: %s > %s", timestamp1, timestamp2)
	}
	if timestamp2 > timestamp3 {
		t.Errorf("Timestamps not sorted: %s > %s", timestamp2, timestamp3)
	}
}
