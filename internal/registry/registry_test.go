package registry

import (
	"testing"
)

func sub(id, key, window string, symbols ...string) *Subscription {
	return NewSubscription(id, key, window, "trades", symbols, []string{"T"})
}

func TestRegistry_AddRemove(t *testing.T) {
	r := New()

	r.Add(sub("s1", "w1", "w1", "AAPL"))
	r.Add(sub("s2", "w1", "w1", "TSLA"))
	r.Add(sub("s3", "w2", "w2", "AAPL"))

	if r.Count() != 3 {
		t.Errorf("Count = %d, want 3", r.Count())
	}
	if r.CountForKey("w1") != 2 {
		t.Errorf("CountForKey(w1) = %d, want 2", r.CountForKey("w1"))
	}

	removed, ok := r.Remove("s1")
	if !ok || removed.ID != "s1" {
		t.Fatalf("Remove(s1) = %v, %v", removed, ok)
	}
	if r.CountForKey("w1") != 1 {
		t.Errorf("CountForKey(w1) = %d after remove, want 1", r.CountForKey("w1"))
	}

	if _, ok := r.Remove("s1"); ok {
		t.Error("second Remove(s1) should fail")
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("Get(s1) should fail after remove")
	}

	r.Remove("s2")
	if r.CountForKey("w1") != 0 {
		t.Errorf("CountForKey(w1) = %d after draining, want 0", r.CountForKey("w1"))
	}
}

func TestRegistry_MatchFanOut(t *testing.T) {
	r := New()

	r.Add(sub("s1", "w1", "w1", "AAPL", "MSFT"))
	r.Add(sub("s2", "w1", "w1", "AAPL"))
	r.Add(sub("s3", "w1", "w1", "TSLA"))
	r.Add(sub("s4", "w2", "w2", "AAPL")) // different connection

	matches := r.Match("w1", []string{"AAPL"})
	if len(matches) != 2 {
		t.Fatalf("Match = %d subscriptions, want 2", len(matches))
	}
	if matches[0].ID != "s1" || matches[1].ID != "s2" {
		t.Errorf("match order = %s, %s; want s1, s2", matches[0].ID, matches[1].ID)
	}

	if got := r.Match("w1", []string{"NVDA"}); len(got) != 0 {
		t.Errorf("Match(NVDA) = %d, want 0", len(got))
	}
}

func TestRegistry_MatchBatchedSymbolsOncePerSubscription(t *testing.T) {
	r := New()
	r.Add(sub("s1", "w1", "w1", "AAPL", "MSFT"))

	// Both symbols of the batch hit s1; it must be delivered once.
	matches := r.Match("w1", []string{"AAPL", "MSFT"})
	if len(matches) != 1 {
		t.Errorf("Match = %d deliveries, want exactly 1", len(matches))
	}
}

func TestRegistry_ForKeyOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"s1", "s2", "s3"} {
		r.Add(sub(id, "w1", "w1", "AAPL"))
	}

	subs := r.ForKey("w1")
	if len(subs) != 3 {
		t.Fatalf("ForKey = %d, want 3", len(subs))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if subs[i].ID != want {
			t.Errorf("ForKey[%d] = %s, want %s", i, subs[i].ID, want)
		}
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := New()
	r.Add(sub("s1", "w1", "w1", "AAPL"))
	r.Add(sub("s2", "w2", "w2", "TSLA"))

	removed := r.Clear()
	if len(removed) != 2 {
		t.Errorf("Clear returned %d, want 2", len(removed))
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d after Clear", r.Count())
	}
	if r.CountForKey("w1") != 0 {
		t.Error("key index survived Clear")
	}
}
