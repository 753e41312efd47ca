package state

import (
	"encoding/json"
	"testing"
)

func TestFileStateRoundtrip(t *testing.T) {
	st := NewFileState(t.TempDir())

	in := map[string]int{"OUTPUT/tcp:23": 6023, "OUTPUT/tcp:80": 8080}
	if err := st.Put(in); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	bytes, err := st.Get()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	out := map[string]int{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(out) != 2 || out["OUTPUT/tcp:23"] != 6023 {
		t.Fatalf("roundtrip mismatch: %v", out)
	}
}

func TestFileStateGetMissing(t *testing.T) {
	st := NewFileState(t.TempDir())
	if _, err := st.Get(); err == nil {
		t.Fatal("expected error for missing state file")
	}
}
