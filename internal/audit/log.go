package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ppiankov/segvguard/internal/clock"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Log appends crash, suspend, deny and expire events to a JSONL file.
// Each line's prev_hash is the SHA-256 of the line before it.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	clock    clock.Clock
}

// Open opens or creates the log at path, stamping entries with the wall
// clock.
func Open(path string) (*Log, error) {
	return OpenWithClock(path, clock.Real())
}

// OpenWithClock opens the log at path and stamps entries that carry no
// timestamp with c. An existing log is continued from its last line.
func OpenWithClock(path string, c clock.Clock) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash, err := chainTail(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{file: file, prevHash: prevHash, clock: c}, nil
}

// chainTail returns the hash a new entry must reference: the hash of the
// last line, or GenesisHash for a missing or empty file.
func chainTail(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	tail := GenesisHash
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			tail = HashLine(scanner.Bytes())
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("audit: scan existing log: %w", err)
	}
	return tail, nil
}

// Record stamps, validates and appends entry, then syncs the file. An
// entry outside the event vocabulary is refused and leaves the chain
// untouched.
func (l *Log) Record(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = l.clock.Now().UTC().Format(TimestampFormat)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("audit: refusing entry: %w", err)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
