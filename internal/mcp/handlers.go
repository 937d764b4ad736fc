package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
)

// --- Input/Output types ---

// StatusInput is empty.
type StatusInput struct{}

// StatusOutput describes scopes and table occupancy.
type StatusOutput struct {
	Shards  int         `json:"shards"`
	Entries int         `json:"entries"`
	Scopes  []ScopeItem `json:"scopes"`
}

// ScopeItem is one scope's configuration.
type ScopeItem struct {
	Name           string `json:"name"`
	Parent         string `json:"parent,omitempty"`
	Status         string `json:"status"`
	ExpiryTimeout  int    `json:"expiry_timeout"`
	SuspendTimeout int    `json:"suspend_timeout"`
	MaxCrashes     int    `json:"max_crashes"`
}

// CheckInput defines parameters for the segvguard_check tool.
type CheckInput struct {
	Path  string `json:"path" jsonschema:"absolute path of the program"`
	UID   uint32 `json:"uid" jsonschema:"invoking user id"`
	Scope string `json:"scope,omitempty" jsonschema:"scope name, root when omitted"`
}

// CheckOutput contains the decision and verdict.
type CheckOutput struct {
	Decision string `json:"decision"`
	Verdict  string `json:"verdict"`
	Reason   string `json:"reason,omitempty"`
	Crashes  int    `json:"crashes"`
}

// EntriesInput filters entries. Zero fields match everything.
type EntriesInput struct {
	UID   *uint32 `json:"uid,omitempty" jsonschema:"only entries for this user id"`
	State string  `json:"state,omitempty" jsonschema:"tracking or suspended"`
}

// EntriesOutput lists crash entries.
type EntriesOutput struct {
	Entries []EntryItem `json:"entries"`
}

// EntryItem describes one crash entry.
type EntryItem struct {
	UID       uint32 `json:"uid"`
	Inode     uint64 `json:"inode"`
	MountID   uint64 `json:"mount_id"`
	Name      string `json:"name,omitempty"`
	Crashes   int    `json:"crashes"`
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at"`
}

// --- Handlers ---

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	scopes, err := s.backend.Scopes(ctx, "")
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to list scopes: %w", err)
	}
	entries, shards, err := s.backend.Entries(ctx)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to list entries: %w", err)
	}

	out := StatusOutput{Shards: shards, Entries: len(entries), Scopes: make([]ScopeItem, len(scopes))}
	for i, sc := range scopes {
		out.Scopes[i] = ScopeItem{
			Name:           sc.Name,
			Parent:         sc.Parent,
			Status:         sc.Config.Mode.String(),
			ExpiryTimeout:  sc.Config.Expiry,
			SuspendTimeout: sc.Config.Suspension,
			MaxCrashes:     sc.Config.MaxCrashes,
		}
	}
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.Path == "" {
		return nil, CheckOutput{}, fmt.Errorf("path is required")
	}

	decision, err := s.backend.Decide(ctx, input.Scope, input.Path)
	if err != nil {
		return nil, CheckOutput{}, fmt.Errorf("failed to compute decision: %w", err)
	}
	proc := guard.Process{Name: input.Path, UID: input.UID, Scope: input.Scope, Decision: decision}
	v, err := s.backend.Check(ctx, proc, input.Path)
	if err != nil {
		return nil, CheckOutput{}, fmt.Errorf("failed to check: %w", err)
	}

	out := CheckOutput{
		Decision: decision.String(),
		Verdict:  string(v.Decision),
		Reason:   v.Reason,
		Crashes:  v.Crashes,
	}
	if !v.Allowed() {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleEntries(ctx context.Context, req *mcpsdk.CallToolRequest, input EntriesInput) (*mcpsdk.CallToolResult, EntriesOutput, error) {
	entries, _, err := s.backend.Entries(ctx)
	if err != nil {
		return nil, EntriesOutput{}, fmt.Errorf("failed to list entries: %w", err)
	}

	out := EntriesOutput{Entries: []EntryItem{}}
	for _, e := range entries {
		if input.UID != nil && e.Key.UID != *input.UID {
			continue
		}
		if input.State != "" && string(e.State) != input.State {
			continue
		}
		out.Entries = append(out.Entries, toEntryItem(e))
	}
	return nil, out, nil
}

func toEntryItem(e model.EntryInfo) EntryItem {
	return EntryItem{
		UID:       e.Key.UID,
		Inode:     e.Key.Inode,
		MountID:   e.Key.MountID,
		Name:      e.Name,
		Crashes:   e.Crashes,
		State:     string(e.State),
		ExpiresAt: e.Deadline.UTC().Format(time.RFC3339),
	}
}
