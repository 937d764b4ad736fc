package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ppiankov/segvguard/internal/config"
	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/scope"
	"github.com/ppiankov/segvguard/internal/wire"
)

// DefaultTimeout bounds every call to the daemon.
const DefaultTimeout = 5 * time.Second

// Client connects to a segvguard daemon.
type Client struct {
	conn   *grpc.ClientConn
	client *wire.GuardClient
}

// New creates a gRPC client connected to the given listen address, a
// unix socket or a TCP host:port.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(config.DialTarget(addr), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to segvguard daemon: %w", err)
	}
	return &Client{
		conn:   conn,
		client: wire.NewGuardClient(conn),
	}, nil
}

// Decide asks the daemon for the activation decision of path in scopeName.
func (c *Client) Decide(ctx context.Context, scopeName, path string) (model.ExecDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.Decide(ctx, &wire.DecideRequest{Scope: scopeName, Path: path})
	if err != nil {
		return model.Inactive, err
	}
	return model.ParseExecDecision(resp.Decision), nil
}

// Check asks whether proc may start path.
func (c *Client) Check(ctx context.Context, proc guard.Process, path string) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.Check(ctx, &wire.CheckRequest{Process: proc, Path: path})
	if err != nil {
		return model.Verdict{}, err
	}
	return resp.Verdict, nil
}

// Crash reports a crash of proc running path.
func (c *Client) Crash(ctx context.Context, proc guard.Process, path string) (guard.CrashResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.Crash(ctx, &wire.CrashRequest{Process: proc, Path: path})
	if err != nil {
		return guard.CrashResult{}, err
	}
	return resp.Result, nil
}

// Entries lists live crash entries and the table's shard count.
func (c *Client) Entries(ctx context.Context) ([]model.EntryInfo, int, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.Entries(ctx, &wire.EntriesRequest{})
	if err != nil {
		return nil, 0, err
	}
	return resp.Entries, resp.Shards, nil
}

// CreateScope creates name as a snapshot of parent.
func (c *Client) CreateScope(ctx context.Context, name, parent string) (scope.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.CreateScope(ctx, &wire.CreateScopeRequest{Name: name, Parent: parent})
	if err != nil {
		return scope.Info{}, err
	}
	return first(resp)
}

// DestroyScope removes a scope.
func (c *Client) DestroyScope(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err := c.client.DestroyScope(ctx, &wire.DestroyScopeRequest{Name: name})
	return err
}

// SetTunable writes one tunable on a scope and returns the result.
func (c *Client) SetTunable(ctx context.Context, scopeName, tunable, value string) (scope.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.SetTunable(ctx, &wire.SetTunableRequest{Scope: scopeName, Tunable: tunable, Value: value})
	if err != nil {
		return scope.Info{}, err
	}
	return first(resp)
}

// Scopes returns one scope, or all of them when name is empty.
func (c *Client) Scopes(ctx context.Context, name string) ([]scope.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := c.client.GetScope(ctx, &wire.GetScopeRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Scopes, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func first(resp *wire.ScopeResponse) (scope.Info, error) {
	if len(resp.Scopes) == 0 {
		return scope.Info{}, fmt.Errorf("empty scope response")
	}
	return resp.Scopes[0], nil
}
