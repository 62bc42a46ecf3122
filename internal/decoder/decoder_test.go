package decoder

import (
	"strings"
	"testing"
)

func feedChunks(p []byte, size int) string {
	d := New()
	var sb strings.Builder
	for len(p) > 0 {
		n := size
		if n > len(p) {
			n = len(p)
		}
		sb.WriteString(d.Feed(p[:n]))
		p = p[n:]
	}
	sb.WriteString(d.Flush())
	return sb.String()
}

func TestDecoder_ChunkingInvariance(t *testing.T) {
	inputs := []struct {
		name string
		data []byte
	}{
		{"ascii", []byte("hello err, hello out, bye...\n")},
		{"cjk", []byte("Dogs is 小狗, cats is 猫\n")},
		{"emoji", []byte("smile \U0001F600 done")},
		{"lone continuation", []byte("\x80Yay")},
		{"invalid run", []byte("a\x80\x81\x82b")},
		{"truncated lead then ascii", []byte("x\xe7\x8cA")},
		{"invalid then valid multibyte", []byte("\x80\xe7\x8c\x8a")},
		{"surrogate", []byte("\xed\xa0\x80z")},
		{"truncated at end", []byte("tail \xf0\x9f\x98")},
		{"mixed", []byte("\xff\xfe猫\xc3\x28\xe2\x82\xac\x80")},
	}

	for _, tc := range inputs {
		t.Run(tc.name, func(t *testing.T) {
			want := DecodeAll(tc.data)
			for size := 1; size <= len(tc.data)+1; size++ {
				if got := feedChunks(tc.data, size); got != want {
					t.Errorf("chunk size %d: got %q, want %q", size, got, want)
				}
			}
		})
	}
}

func TestDecoder_SplitCharacterOneByteAtATime(t *testing.T) {
	d := New()
	data := []byte("猫")

	if got := d.Feed(data[:1]); got != "" {
		t.Fatalf("Feed(first byte) = %q, want empty", got)
	}
	if d.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", d.Pending())
	}
	if got := d.Feed(data[1:2]); got != "" {
		t.Fatalf("Feed(second byte) = %q, want empty", got)
	}
	if got := d.Feed(data[2:]); got != "猫" {
		t.Fatalf("Feed(third byte) = %q, want %q", got, "猫")
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after completion, want 0", d.Pending())
	}
	if got := d.Flush(); got != "" {
		t.Errorf("Flush() = %q, want empty", got)
	}
}

func TestDecoder_InvalidByteEmittedImmediately(t *testing.T) {
	d := New()
	if got := d.Feed([]byte("\x80")); got != Replacement {
		t.Fatalf("Feed(0x80) = %q, want replacement", got)
	}
	if got := d.Feed([]byte("Yay")); got != "Yay" {
		t.Errorf("Feed(Yay) = %q, want Yay", got)
	}
}

func TestDecoder_OneMarkerPerRun(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"single", "a\x80b", "a�b"},
		{"run of three", "a\x80\x81\x82b", "a�b"},
		{"two runs", "\x80a\x80", "�a�"},
		{"bad lead then continuation", "\xc3\x28", "�("},
		{"trailing incomplete", "ok\xe2\x82", "ok�"},
		{"invalid then incomplete", "\x80\xe2", "�"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecodeAll([]byte(tc.data)); got != tc.want {
				t.Errorf("DecodeAll(%q) = %q, want %q", tc.data, got, tc.want)
			}
		})
	}
}

func TestDecoder_RunAcrossFeedBoundary(t *testing.T) {
	d := New()
	got := d.Feed([]byte("a\x80")) + d.Feed([]byte("\x81b")) + d.Flush()
	if got != "a�b" {
		t.Errorf("got %q, want %q", got, "a�b")
	}
}

func TestDecoder_FlushResets(t *testing.T) {
	d := New()
	d.Feed([]byte("\xe7\x8c"))
	if got := d.Flush(); got != Replacement {
		t.Fatalf("Flush() = %q, want replacement", got)
	}
	if got := d.Feed([]byte("\x8a")); got != Replacement {
		t.Errorf("Feed after Flush = %q, want replacement for orphan continuation", got)
	}
}

func TestDecoder_EmptyFeed(t *testing.T) {
	d := New()
	if got := d.Feed(nil); got != "" {
		t.Errorf("Feed(nil) = %q, want empty", got)
	}
	if got := d.Flush(); got != "" {
		t.Errorf("Flush() = %q, want empty", got)
	}
}
