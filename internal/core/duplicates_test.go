package core

import "testing"

func TestCheckDuplicate(t *testing.T) {
	snap := NewProfileSnapshot([]PlayerProfile{
		{Key: "alice", GamesPlayed: []string{"23_10_01"}},
		{Key: "bob", GamesPlayed: []string{"23_10_01", "23_10_08"}},
	})
	session := NewSessionUploads()

	if err := CheckDuplicate(session, snap, "23_10_15", "ledger23_10_15.csv"); err != nil {
		t.Errorf("new date: %v", err)
	}

	err := CheckDuplicate(session, snap, "23_10_08", "ledger23_10_08.csv")
	if !IsKind(err, KindDuplicate, SubDuplicateGame) {
		t.Fatalf("error = %v, want duplicate_game", err)
	}
	ue, _ := AsUploadError(err)
	if ue.Context["key"] != "bob" {
		t.Errorf("key = %v, want bob", ue.Context["key"])
	}

	session.Record("23_10_15", "ledger23_10_15.csv")
	if err := CheckDuplicate(session, snap, "23_10_15", "ledger23_10_15.csv"); !IsKind(err, KindDuplicate, SubDuplicateUpload) {
		t.Errorf("error = %v, want duplicate_upload", err)
	}
	// Same date under another name falls through to the profile scan.
	if err := CheckDuplicate(session, snap, "23_10_15", "ledger23_10_15(1).csv"); err != nil {
		t.Errorf("renamed upload: %v", err)
	}
}

func TestSessionUploads_ForgetAndReset(t *testing.T) {
	s := NewSessionUploads()
	s.Record("23_10_15", "a.csv")
	s.Record("23_10_15", "b.csv")
	s.Record("23_10_22", "c.csv")

	s.Forget("23_10_15")
	if s.Seen("23_10_15", "a.csv") || s.Seen("23_10_15", "b.csv") {
		t.Error("Forget should drop every file for the date")
	}
	if !s.Seen("23_10_22", "c.csv") {
		t.Error("other dates must be kept")
	}

	s.Reset()
	if s.Seen("23_10_22", "c.csv") {
		t.Error("Reset should drop everything")
	}
}
