// Package audit keeps a tamper-evident, hash-chained log of API calls.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// DefaultRetention is how many entries a ChainLogger keeps in memory.
const DefaultRetention = 10000

// LogEntry represents a single audit log entry
type LogEntry struct {
	Seq          uint64 `json:"seq"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger appends entries whose hash covers the previous entry's hash.
// The most recent entries stay in memory; every entry is also written as a
// JSON line to the sink when one is configured.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	seq          uint64
	entries      []*LogEntry
	retention    int
	sink         io.Writer
	sinkErr      error
	now          func() time.Time
}

type Option func(*ChainLogger)

// WithSink writes every appended entry to w as a JSON line.
func WithSink(w io.Writer) Option {
	return func(c *ChainLogger) { c.sink = w }
}

// WithRetention bounds the in-memory entries. Zero or less keeps none.
func WithRetention(n int) Option {
	return func(c *ChainLogger) { c.retention = n }
}

// WithHead continues an existing chain whose last entry had seq and hash.
func WithHead(seq uint64, hash string) Option {
	return func(c *ChainLogger) {
		c.seq = seq
		c.previousHash = hash
	}
}

func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{
		previousHash: GenesisHash,
		retention:    DefaultRetention,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	entry := &LogEntry{
		Seq:          c.seq,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry)
	c.previousHash = entry.Hash

	if c.retention > 0 {
		if len(c.entries) == c.retention {
			copy(c.entries, c.entries[1:])
			c.entries = c.entries[:len(c.entries)-1]
		}
		c.entries = append(c.entries, entry)
	}

	if c.sink != nil && c.sinkErr == nil {
		b, _ := json.Marshal(entry)
		if _, err := c.sink.Write(append(b, '\n')); err != nil {
			// Later entries would not chain onto the file; stop writing.
			c.sinkErr = err
		}
	}
	return entry
}

// Entries returns copies of the retained entries, oldest first.
func (c *ChainLogger) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// SinkErr reports the write error that stopped the sink, if any.
func (c *ChainLogger) SinkErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinkErr
}

// Verify checks the retained entries.
func (c *ChainLogger) Verify() error {
	entries := c.Entries()
	ptrs := make([]*LogEntry, len(entries))
	for i := range entries {
		ptrs[i] = &entries[i]
	}
	return VerifyChain(ptrs)
}

// VerifyChain checks that entries form an unbroken hash chain. The first
// entry's previous hash is trusted as given, so a retained window verifies.
func VerifyChain(entries []*LogEntry) error {
	for i, entry := range entries {
		if i > 0 {
			prev := entries[i-1]
			if entry.PreviousHash != prev.Hash {
				return fmt.Errorf("entry %d: previous hash does not match entry %d", entry.Seq, prev.Seq)
			}
			if entry.Seq != prev.Seq+1 {
				return fmt.Errorf("entry %d: sequence gap after %d", entry.Seq, prev.Seq)
			}
		}
		if entryHash(entry) != entry.Hash {
			return fmt.Errorf("entry %d: hash mismatch", entry.Seq)
		}
	}
	return nil
}

// ReadChain parses JSON lines as written by WithSink.
func ReadChain(r io.Reader) ([]*LogEntry, error) {
	var out []*LogEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &e)
	}
	return out, sc.Err()
}

func entryHash(e *LogEntry) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", e.Seq, e.PreviousHash, e.Timestamp, e.Payload)))
	return hex.EncodeToString(sum[:])
}
