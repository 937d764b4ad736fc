package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of walking an audit log. Counts covers the
// entries checked before the first failure.
type VerifyResult struct {
	Valid     bool        `json:"valid"`
	Lines     int         `json:"lines"`
	Counts    EventCounts `json:"counts"`
	Error     string      `json:"error,omitempty"`
	ErrorLine int         `json:"error_line,omitempty"`
}

func (r VerifyResult) fail(format string, args ...any) VerifyResult {
	r.Valid = false
	r.Error = fmt.Sprintf(format, args...)
	r.ErrorLine = r.Lines
	return r
}

// Verify checks that every line of the log at path is a well-formed
// segvguard entry and that the prev_hash chain is unbroken.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()
	return verifyChain(f)
}

func verifyChain(r io.Reader) VerifyResult {
	var res VerifyResult
	prev := GenesisHash

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry AuditEntry
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&entry); err != nil {
			return res.fail("parse error: %v", err)
		}

		if entry.PrevHash != prev {
			if res.Lines == 1 {
				return res.fail("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return res.fail("hash mismatch: expected %s, got %s", prev, entry.PrevHash)
		}
		if err := entry.Validate(); err != nil {
			return res.fail("invalid %s entry: %v", entry.Event, err)
		}

		res.Counts.add(entry.Event)
		prev = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return res.fail("scan: %v", err)
	}

	res.Valid = true
	return res
}
