package core

import (
	"strings"
	"testing"
)

func testSnapshot() ProfileSnapshot {
	return NewProfileSnapshot([]PlayerProfile{
		{Key: "alice", Nicknames: []string{"Alice", "Ally"}},
		{Key: "bob", Nicknames: []string{"Bobby", "B"}},
		{Key: "bob2", Nicknames: []string{"bobby", "Robert"}},
	})
}

func TestResolveOne(t *testing.T) {
	snap := testSnapshot()

	tests := []struct {
		nickname string
		wantKey  string
		wantOK   bool
	}{
		{"alice", "alice", true},
		{"Alice", "alice", true},
		{"  ALLY ", "alice", true},
		{"Bobby", "bob", true}, // first profile listing the alias wins
		{"robert", "bob2", true},
		{"bob2", "bob2", true},
		{"Carol", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		key, ok := ResolveOne(tt.nickname, snap)
		if key != tt.wantKey || ok != tt.wantOK {
			t.Errorf("ResolveOne(%q) = %q, %v; want %q, %v", tt.nickname, key, ok, tt.wantKey, tt.wantOK)
		}
	}
}

func TestResolveMany(t *testing.T) {
	res := ResolveMany([]string{"Ally", "Carol", "B", "Carol", "Dave"}, testSnapshot())

	if res.Complete() {
		t.Fatal("resolution should be incomplete")
	}
	if res.Matched["Ally"] != "alice" || res.Matched["B"] != "bob" {
		t.Errorf("Matched = %v", res.Matched)
	}
	if strings.Join(res.Unmatched, ",") != "Carol,Dave" {
		t.Errorf("Unmatched = %v, want Carol,Dave", res.Unmatched)
	}

	ue := res.UnmatchedError()
	if ue.Kind != KindPlayerMatching || ue.Subkind != SubUnmatchedPlayers {
		t.Fatalf("got %s/%s", ue.Kind, ue.Subkind)
	}
	if ue.Context["count"] != 2 {
		t.Errorf("count = %v", ue.Context["count"])
	}
	if ue.Message != "Unknown players: Carol, Dave" {
		t.Errorf("Message = %q", ue.Message)
	}
}

func TestResolveMany_Complete(t *testing.T) {
	res := ResolveMany([]string{"Alice", "Robert"}, testSnapshot())
	if !res.Complete() {
		t.Fatalf("Unmatched = %v", res.Unmatched)
	}
	if res.UnmatchedError() != nil {
		t.Error("complete resolution should have no error")
	}
}
