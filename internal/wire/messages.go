package wire

import (
	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/scope"
)

// DecideRequest asks for the activation decision of one program load.
type DecideRequest struct {
	Scope string `json:"scope,omitempty"`
	Path  string `json:"path"`
}

type DecideResponse struct {
	Decision string `json:"decision"`
}

// CheckRequest gates a new execution of Path by Process.
type CheckRequest struct {
	Process guard.Process `json:"process"`
	Path    string        `json:"path"`
}

type CheckResponse struct {
	Verdict model.Verdict `json:"verdict"`
}

// CrashRequest reports that Process crashed while running Path.
type CrashRequest struct {
	Process guard.Process `json:"process"`
	Path    string        `json:"path"`
}

type CrashResponse struct {
	Result guard.CrashResult `json:"result"`
}

type EntriesRequest struct{}

type EntriesResponse struct {
	Shards  int               `json:"shards"`
	Entries []model.EntryInfo `json:"entries"`
}

type CreateScopeRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

type DestroyScopeRequest struct {
	Name string `json:"name"`
}

type DestroyScopeResponse struct{}

// SetTunableRequest writes one of status, expiry_timeout,
// suspend_timeout or max_crashes on a scope.
type SetTunableRequest struct {
	Scope   string `json:"scope,omitempty"`
	Tunable string `json:"tunable"`
	Value   string `json:"value"`
}

// GetScopeRequest selects one scope by name; an empty name lists all.
type GetScopeRequest struct {
	Name string `json:"name,omitempty"`
}

type ScopeResponse struct {
	Scopes []scope.Info `json:"scopes"`
}
