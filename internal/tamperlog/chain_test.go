package tamperlog

import (
	"path/filepath"
	"testing"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "tamperlog.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAppendAndVerify(t *testing.T) {
	c := newTestChain(t)

	kinds := []string{"store", "store", "tamper_detected", "clear"}
	for _, k := range kinds {
		if _, err := c.Append(k, "desc for "+k, "u1"); err != nil {
			t.Fatalf("Append(%s): %v", k, err)
		}
	}

	if c.Len() != len(kinds) {
		t.Errorf("Len = %d, want %d", c.Len(), len(kinds))
	}
	if err := c.VerifyChain(); err != nil {
		t.Errorf("VerifyChain on clean chain: %v", err)
	}

	entries := c.Entries(0)
	if entries[0].PrevHash != genesisHash {
		t.Errorf("first entry PrevHash = %q, want %q", entries[0].PrevHash, genesisHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].ContentHash {
			t.Errorf("entry %d not linked to predecessor", i)
		}
	}
}

func TestEntriesLimit(t *testing.T) {
	c := newTestChain(t)
	for i := 0; i < 10; i++ {
		if _, err := c.Append("store", "", ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got := c.Entries(3)
	if len(got) != 3 {
		t.Fatalf("Entries(3) returned %d entries", len(got))
	}
	if got[2].Sequence != 10 {
		t.Errorf("last entry sequence = %d, want 10", got[2].Sequence)
	}
	if got[0].Sequence != 8 {
		t.Errorf("first returned sequence = %d, want 8", got[0].Sequence)
	}
}

func TestVerifyDetectsEdit(t *testing.T) {
	c := newTestChain(t)
	for i := 0; i < 5; i++ {
		if _, err := c.Append("store", "original", "u1"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	c.entries[2].Description = "rewritten"
	if err := c.VerifyChain(); err == nil {
		t.Error("VerifyChain should fail after an entry is edited")
	}
}

func TestVerifyDetectsSplice(t *testing.T) {
	c := newTestChain(t)
	for i := 0; i < 5; i++ {
		if _, err := c.Append("store", "", ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Drop an entry from the middle
	c.entries = append(c.entries[:2], c.entries[3:]...)
	if err := c.VerifyChain(); err == nil {
		t.Error("VerifyChain should fail after an entry is spliced out")
	}
}

func TestVerifyDetectsReorder(t *testing.T) {
	c := newTestChain(t)
	for i := 0; i < 4; i++ {
		if _, err := c.Append("store", "", ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	c.entries[1], c.entries[2] = c.entries[2], c.entries[1]
	if err := c.VerifyChain(); err == nil {
		t.Error("VerifyChain should fail after entries are reordered")
	}
}

func TestReloadContinuesChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tamperlog.json")

	c1, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c1.Append("store", "", ""); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	c2, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c2.Len() != 3 {
		t.Fatalf("reloaded chain has %d entries, want 3", c2.Len())
	}

	entry, err := c2.Append("clear", "", "")
	if err != nil {
		t.Fatalf("Append after reload: %v", err)
	}
	if entry.Sequence != 4 {
		t.Errorf("sequence after reload = %d, want 4", entry.Sequence)
	}
	if err := c2.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after reload: %v", err)
	}
}

func TestEmptyChainVerifies(t *testing.T) {
	c := newTestChain(t)
	if err := c.VerifyChain(); err != nil {
		t.Errorf("empty chain should verify: %v", err)
	}
	if got := c.Entries(10); len(got) != 0 {
		t.Errorf("empty chain returned %d entries", len(got))
	}
}
