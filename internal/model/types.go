package model

import (
	"fmt"
	"time"
)

// Decision is the outcome of a pre-exec check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// ExecDecision is the activation decision computed once when a program is
// loaded. It is carried with the process for its lifetime and never mutated.
type ExecDecision uint8

const (
	Inactive ExecDecision = iota
	Active
)

func (d ExecDecision) String() string {
	if d == Active {
		return "active"
	}
	return "inactive"
}

// ParseExecDecision maps a wire string back to an ExecDecision.
// Anything other than "inactive" is treated as active.
func ParseExecDecision(s string) ExecDecision {
	if s == "inactive" {
		return Inactive
	}
	return Active
}

// OptFlag is the explicit tracking request embedded in an executable image.
type OptFlag uint8

const (
	OptNone    OptFlag = iota // no explicit request
	OptTrack                  // program asks to be tracked
	OptNoTrack                // program asks not to be tracked
)

func (f OptFlag) String() string {
	switch f {
	case OptTrack:
		return "track"
	case OptNoTrack:
		return "notrack"
	default:
		return "none"
	}
}

// FileID identifies an executable independently of the path used to run it.
// Hard links and renames on the same mount share a FileID.
type FileID struct {
	Inode   uint64 `json:"inode"`
	MountID uint64 `json:"mount_id"`
}

// CrashKey is the identity of one crash counter: the invoking user and the
// executable's file identity.
type CrashKey struct {
	UID     uint32 `json:"uid"`
	Inode   uint64 `json:"inode"`
	MountID uint64 `json:"mount_id"`
}

// NewCrashKey builds the key for uid running the file identified by id.
func NewCrashKey(uid uint32, id FileID) CrashKey {
	return CrashKey{UID: uid, Inode: id.Inode, MountID: id.MountID}
}

func (k CrashKey) String() string {
	return fmt.Sprintf("uid=%d inode=%d mnt=%d", k.UID, k.Inode, k.MountID)
}

// EntryState is the lifecycle state of a crash entry.
type EntryState string

const (
	Tracking  EntryState = "tracking"
	Suspended EntryState = "suspended"
)

// EntryInfo is a point-in-time copy of a crash entry, safe to hand out of
// the table.
type EntryInfo struct {
	Key      CrashKey   `json:"key"`
	Crashes  int        `json:"crashes"`
	State    EntryState `json:"state"`
	Deadline time.Time  `json:"deadline"`
	Name     string     `json:"name,omitempty"`
}

// Verdict is the result of a pre-exec check.
type Verdict struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Crashes  int      `json:"crashes,omitempty"`
}

// Allowed reports whether the verdict permits execution.
func (v Verdict) Allowed() bool {
	return v.Decision != Deny
}
