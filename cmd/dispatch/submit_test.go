package main

import "testing"

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"source=telegram", "user=ops"})
	if err != nil {
		t.Fatalf("parseMeta returned error: %v", err)
	}
	if meta["source"] != "telegram" || meta["user"] != "ops" {
		t.Errorf("meta = %v", meta)
	}
}

func TestParseMetaEmpty(t *testing.T) {
	meta, err := parseMeta(nil)
	if err != nil {
		t.Fatalf("parseMeta returned error: %v", err)
	}
	if meta != nil {
		t.Errorf("meta = %v, want nil", meta)
	}
}

func TestParseMetaInvalid(t *testing.T) {
	for _, pair := range []string{"novalue", "=orphan"} {
		if _, err := parseMeta([]string{pair}); err == nil {
			t.Errorf("parseMeta(%q) should fail", pair)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a long payload that needs cutting", 10); got != "a long ..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("line\nbreak", 20); got != "line break" {
		t.Errorf("truncate = %q", got)
	}
}
