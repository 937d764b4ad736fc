package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects audit entries. Zero fields match everything.
type ReplayFilter struct {
	UID   *uint32
	Inode uint64
	Event string
	From  time.Time
	To    time.Time
}

// ReplaySummary counts events in a replay.
type ReplaySummary struct {
	Total          int         `json:"total"`
	Counts         EventCounts `json:"counts"`
	FirstTimestamp string      `json:"first_timestamp"`
	LastTimestamp  string      `json:"last_timestamp"`
}

// ReplayResult holds the matching entries and their summary.
type ReplayResult struct {
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
// Malformed lines are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	result.Summary = summarize(result.Entries)
	return result, nil
}

func (f ReplayFilter) matches(e AuditEntry) bool {
	if f.UID != nil && e.UID != *f.UID {
		return false
	}
	if f.Inode != 0 && e.Inode != f.Inode {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

func summarize(entries []AuditEntry) ReplaySummary {
	s := ReplaySummary{Total: len(entries)}
	for _, e := range entries {
		s.Counts.add(e.Event)
	}
	if len(entries) > 0 {
		s.FirstTimestamp = entries[0].Timestamp
		s.LastTimestamp = entries[len(entries)-1].Timestamp
	}
	return s
}
