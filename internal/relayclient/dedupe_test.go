package relayclient

import (
	"testing"
	"time"
)

func TestNonceCache_DuplicateWithinWindow(t *testing.T) {
	c := newNonceCache(10*time.Second, 16)
	now := time.Unix(1700000000, 0)
	if _, dup := c.observe("mc-1|abcd", now); dup {
		t.Fatalf("first sighting is not a duplicate")
	}
	if _, dup := c.observe("mc-1|abcd", now.Add(time.Second)); !dup {
		t.Fatalf("expected duplicate")
	}
	if _, dup := c.observe("mc-1|ef01", now.Add(time.Second)); dup {
		t.Fatalf("different nonce must pass")
	}
}

func TestNonceCache_ExpiresAfterTTL(t *testing.T) {
	c := newNonceCache(2*time.Second, 16)
	now := time.Unix(1700000000, 0)
	c.observe("k", now)
	if _, dup := c.observe("k", now.Add(3*time.Second)); dup {
		t.Fatalf("expected entry to expire")
	}
}

func TestNonceCache_BoundedAndRemembersConfirm(t *testing.T) {
	c := newNonceCache(time.Hour, 3)
	now := time.Unix(1700000000, 0)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.observe(k, now.Add(time.Duration(i)*time.Millisecond))
	}
	if c.len() != 3 {
		t.Fatalf("len = %d, want 3", c.len())
	}
	if _, dup := c.observe("a", now.Add(time.Second)); dup {
		t.Fatalf("oldest entry should have been evicted")
	}
	c.markConfirmed("d")
	e, dup := c.observe("d", now.Add(time.Second))
	if !dup || !e.confirmed {
		t.Fatalf("expected confirmed duplicate, got %+v dup=%v", e, dup)
	}
}
