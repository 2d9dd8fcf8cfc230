package cachestore

import (
	"testing"
	"time"

	"github.com/blob79/ringneck/internal/frame"
)

func TestDeriveKeyDistinguishesArgvSplits(t *testing.T) {
	k1 := DeriveKey([]string{"ab", "c"})
	k2 := DeriveKey([]string{"a", "bc"})
	if k1 == k2 {
		t.Fatalf("expected distinct keys for different argv splits, got %s == %s", k1.Hex(), k2.Hex())
	}
	if DeriveKey([]string{"ab", "c"}) != k1 {
		t.Fatalf("DeriveKey is not deterministic")
	}
}

func TestKeyHexRoundTrip(t *testing.T) {
	k := DeriveKey([]string{"echo", "hi"})
	parsed, ok := ParseKey(k.Hex())
	if !ok {
		t.Fatalf("ParseKey(%q) failed", k.Hex())
	}
	if parsed != k {
		t.Fatalf("round trip mismatch: %s != %s", parsed.Hex(), k.Hex())
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	cases := []string{"", "short", "zz" + string(make([]byte, 30)), "a"}
	for _, c := range cases {
		if _, ok := ParseKey(c); ok {
			t.Errorf("ParseKey(%q) unexpectedly succeeded", c)
		}
	}
}

func TestGetMissingKeyIsNotError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	run, ok, err := s.Get(DeriveKey([]string{"nope"}))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || run != nil {
		t.Fatalf("expected miss, got ok=%v run=%v", ok, run)
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := DeriveKey([]string{"echo", "hi"})
	want := []frame.Frame{
		{Kind: frame.KindStdout, Payload: []byte("hi\n")},
		{Kind: frame.KindExit, Payload: []byte{0}},
	}
	if err := s.Put(key, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	run, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit after Put")
	}
	if len(run.Frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(run.Frames), len(want))
	}
	for i := range want {
		if run.Frames[i].Kind != want[i].Kind || string(run.Frames[i].Payload) != string(want[i].Payload) {
			t.Errorf("frame %d = %+v, want %+v", i, run.Frames[i], want[i])
		}
	}
}

func TestPutOverwritesPriorRun(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := DeriveKey([]string{"date"})
	if err := s.Put(key, []frame.Frame{{Kind: frame.KindStdout, Payload: []byte("old")}}); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if err := s.Put(key, []frame.Frame{{Kind: frame.KindStdout, Payload: []byte("new")}}); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	run, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(run.Frames) != 1 || string(run.Frames[0].Payload) != "new" {
		t.Fatalf("expected overwritten run, got %+v", run.Frames)
	}
}

func TestHistoryListsInInsertionOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	argvs := [][]string{{"echo", "1"}, {"echo", "2"}, {"echo", "3"}}
	for i, argv := range argvs {
		key := DeriveKey(argv)
		if err := s.Put(key, []frame.Frame{{Kind: frame.KindExit, Payload: []byte{0}}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.PutHistory(key, argv, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("PutHistory: %v", err)
		}
	}
	entries, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != len(argvs) {
		t.Fatalf("got %d entries, want %d", len(entries), len(argvs))
	}
	for i, argv := range argvs {
		if entries[i].Key != DeriveKey(argv) {
			t.Errorf("entry %d key mismatch", i)
		}
		if len(entries[i].CommandLine) != len(argv) || entries[i].CommandLine[0] != argv[0] {
			t.Errorf("entry %d command line = %v, want %v", i, entries[i].CommandLine, argv)
		}
	}
}

func TestForgetClearsRunsAndHistory(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := DeriveKey([]string{"echo", "hi"})
	if err := s.Put(key, []frame.Frame{{Kind: frame.KindExit, Payload: []byte{0}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.PutHistory(key, []string{"echo", "hi"}, time.Now().UTC()); err != nil {
		t.Fatalf("PutHistory: %v", err)
	}

	if err := s.Forget(); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	if _, ok, err := s.Get(key); err != nil || ok {
		t.Fatalf("expected miss after Forget, got ok=%v err=%v", ok, err)
	}
	entries, err := s.ListHistory()
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history after Forget, got %d entries", len(entries))
	}

	// Store remains usable after Forget.
	if err := s.Put(key, []frame.Frame{{Kind: frame.KindExit, Payload: []byte{1}}}); err != nil {
		t.Fatalf("Put after Forget: %v", err)
	}
	run, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after Forget: ok=%v err=%v", ok, err)
	}
	if run.Frames[0].Payload[0] != 1 {
		t.Fatalf("unexpected payload after Forget: %+v", run.Frames)
	}
}
