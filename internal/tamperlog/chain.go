// Package tamperlog provides a hash-chained, append-only log of
// security-relevant events. Each entry links to the previous one by
// content hash, so editing, reordering or truncating the log is
// detectable after the fact.
package tamperlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alarmvault/alarmvault/internal/crypto"
)

// genesisHash seeds the chain before the first entry exists
const genesisHash = "genesis"

// Entry is a single link in the tamper log chain
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"` // store, clear, tamper_detected, ...
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`

	// Chaining fields
	PrevHash    string `json:"prev_hash"`
	ContentHash string `json:"content_hash"`
}

// hashableEntry fixes the field order for content hashing. The content
// hash covers PrevHash, so splicing entries breaks the chain even when
// each individual entry still hashes correctly.
type hashableEntry struct {
	Sequence    uint64 `json:"sequence"`
	Timestamp   int64  `json:"timestamp"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	PrevHash    string `json:"prev_hash"`
}

func (e *Entry) computeContentHash() (string, error) {
	data, err := json.Marshal(hashableEntry{
		Sequence:    e.Sequence,
		Timestamp:   e.Timestamp.Unix(),
		Kind:        e.Kind,
		Description: e.Description,
		OwnerID:     e.OwnerID,
		PrevHash:    e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash entry: %w", err)
	}
	return crypto.HashBytes(data), nil
}

// Chain is the persistent tamper log
type Chain struct {
	path string

	mu       sync.Mutex
	entries  []Entry
	sequence uint64
	lastHash string
	now      func() time.Time
}

// New opens the tamper log at path, loading any existing chain
func New(path string) (*Chain, error) {
	if path == "" {
		return nil, fmt.Errorf("tamper log path required")
	}

	c := &Chain{
		path:     path,
		lastHash: genesisHash,
		now:      time.Now,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the file the chain persists to
func (c *Chain) Path() string {
	return c.path
}

// SetClock overrides the entry timestamp source, for tests
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Chain) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse tamper log: %w", err)
	}

	c.entries = entries
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		c.sequence = last.Sequence
		c.lastHash = last.ContentHash
	}
	return nil
}

func (c *Chain) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("failed to create tamper log directory: %w", err)
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tamper log: %w", err)
	}
	return os.WriteFile(c.path, data, 0600)
}

// Append adds an entry to the chain and persists it
func (c *Chain) Append(kind, description, ownerID string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := Entry{
		Sequence:    c.sequence,
		Timestamp:   c.now().UTC(),
		Kind:        kind,
		Description: description,
		OwnerID:     ownerID,
		PrevHash:    c.lastHash,
	}

	hash, err := entry.computeContentHash()
	if err != nil {
		c.sequence--
		return nil, err
	}
	entry.ContentHash = hash

	c.entries = append(c.entries, entry)
	c.lastHash = hash

	if err := c.save(); err != nil {
		return nil, err
	}
	out := entry
	return &out, nil
}

// Entries returns the newest entries, up to limit (0 means all)
func (c *Chain) Entries(limit int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.entries) {
		limit = len(c.entries)
	}
	start := len(c.entries) - limit
	out := make([]Entry, limit)
	copy(out, c.entries[start:])
	return out
}

// Len returns the number of entries in the chain
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// VerifyChain walks the whole chain and reports the first break:
// a rewritten entry, a broken link, or a sequence gap.
func (c *Chain) VerifyChain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := genesisHash
	var prevSeq uint64
	for i := range c.entries {
		e := &c.entries[i]

		if e.PrevHash != prevHash {
			return fmt.Errorf("tamper log broken at sequence %d: previous hash mismatch", e.Sequence)
		}
		if e.Sequence != prevSeq+1 {
			return fmt.Errorf("tamper log broken at sequence %d: expected sequence %d", e.Sequence, prevSeq+1)
		}

		hash, err := e.computeContentHash()
		if err != nil {
			return err
		}
		if hash != e.ContentHash {
			return fmt.Errorf("tamper log broken at sequence %d: content hash mismatch", e.Sequence)
		}

		prevHash = e.ContentHash
		prevSeq = e.Sequence
	}
	return nil
}
