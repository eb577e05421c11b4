package keys

import (
	"errors"
	"strings"
	"testing"
)

func TestStringPassesThroughVerbatim(t *testing.T) {
	b, err := Canonicalize("node123")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(b) != "node123" {
		t.Fatalf("string material should pass through, got %q", b)
	}
}

func TestMapCanonicalizationIsOrderIndependent(t *testing.T) {
	a := map[string]any{"pubkey": "02abc", "depth": 2, "sort": true}
	b := map[string]any{"sort": true, "depth": 2, "pubkey": "02abc"}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize a: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("equal maps canonicalized differently:\n%x\n%x", ca, cb)
	}
	if Digest(ca) != Digest(cb) {
		t.Fatalf("equal maps hashed differently")
	}
}

func TestDistinctMaterialDistinctDigest(t *testing.T) {
	d1 := Digest([]byte("a"))
	d2 := Digest([]byte("b"))
	if d1 == d2 {
		t.Fatalf("distinct material produced equal digests")
	}
}

func TestDigestLength(t *testing.T) {
	// 128 bits = 32 hex chars, regardless of input size.
	for _, in := range []string{"", "x", strings.Repeat("y", 4096)} {
		if got := Digest([]byte(in)); len(got) != 32 {
			t.Fatalf("digest length = %d, want 32", len(got))
		}
	}
}

func TestRejectedShapes(t *testing.T) {
	type opaque struct{ X int }
	for _, material := range []any{
		opaque{X: 1},
		&opaque{X: 1},
		make(chan int),
		func() {},
		map[int]string{1: "a"},
		nil,
	} {
		if _, err := Canonicalize(material); !errors.Is(err, ErrKeyShape) {
			t.Fatalf("Canonicalize(%T) err = %v, want ErrKeyShape", material, err)
		}
	}
}

func TestEntryKeyFormat(t *testing.T) {
	k, err := Entry("metrics", "node123")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if !strings.HasPrefix(k, "cache:metrics:") {
		t.Fatalf("entry key %q lacks cache:metrics: prefix", k)
	}
	if len(k) != len("cache:metrics:")+32 {
		t.Fatalf("entry key %q has wrong digest length", k)
	}

	// Same material, same key.
	k2, err := Entry("metrics", "node123")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if k != k2 {
		t.Fatalf("entry keys differ for identical material: %q vs %q", k, k2)
	}
}

func TestIndexAndStatsKeys(t *testing.T) {
	if got := Tag("daily"); got != "cache:tag:daily" {
		t.Fatalf("Tag = %q", got)
	}
	if got := Type("documents"); got != "cache:type:documents" {
		t.Fatalf("Type = %q", got)
	}
	if got := Stats("hits"); got != "cache:stats:hits" {
		t.Fatalf("Stats = %q", got)
	}
}
