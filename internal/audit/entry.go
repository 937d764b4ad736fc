package audit

import (
	"fmt"
	"slices"
	"time"
)

// Event names recorded in the audit log.
const (
	EventCrash   = "crash"
	EventSuspend = "suspend"
	EventDeny    = "deny"
	EventExpire  = "expire"
)

// Events lists every event name in lifecycle order.
var Events = []string{EventCrash, EventSuspend, EventDeny, EventExpire}

// KnownEvent reports whether name is one of Events.
func KnownEvent(name string) bool {
	return slices.Contains(Events, name)
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are plain values so json.Marshal field order is fixed and
// the chain hash is reproducible.
type AuditEntry struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Scope     string `json:"scope,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Name      string `json:"name,omitempty"`
	UID       uint32 `json:"uid"`
	Inode     uint64 `json:"inode"`
	MountID   uint64 `json:"mount_id"`
	Crashes   int    `json:"crashes"`
	Reason    string `json:"reason,omitempty"`
	PrevHash  string `json:"prev_hash"`
}

// Validate checks an entry against the event vocabulary. Crash, suspend
// and deny entries always follow at least one crash.
func (e AuditEntry) Validate() error {
	if !KnownEvent(e.Event) {
		return fmt.Errorf("unknown event %q", e.Event)
	}
	if _, err := time.Parse(TimestampFormat, e.Timestamp); err != nil {
		return fmt.Errorf("bad timestamp %q", e.Timestamp)
	}
	if e.Crashes < 0 {
		return fmt.Errorf("negative crash count %d", e.Crashes)
	}
	if e.Event != EventExpire && e.Crashes == 0 {
		return fmt.Errorf("%s event without crashes", e.Event)
	}
	return nil
}

// EventCounts tallies entries per event.
type EventCounts struct {
	Crash   int `json:"crash"`
	Suspend int `json:"suspend"`
	Deny    int `json:"deny"`
	Expire  int `json:"expire"`
}

func (c *EventCounts) add(event string) {
	switch event {
	case EventCrash:
		c.Crash++
	case EventSuspend:
		c.Suspend++
	case EventDeny:
		c.Deny++
	case EventExpire:
		c.Expire++
	}
}

// String renders the counts the way audit summaries print them.
func (c EventCounts) String() string {
	return fmt.Sprintf("%d crash, %d suspend, %d deny, %d expire", c.Crash, c.Suspend, c.Deny, c.Expire)
}
