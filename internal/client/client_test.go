package client

import (
	"context"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/segvguard/internal/execattr"
	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/server"
)

type fakeResolver map[string]execattr.Attributes

func (r fakeResolver) Resolve(path string) (execattr.Attributes, error) {
	a, ok := r[path]
	if !ok {
		return execattr.Attributes{}, fs.ErrNotExist
	}
	return a, nil
}

func (r fakeResolver) Identify(path string) (model.FileID, error) {
	a, err := r.Resolve(path)
	return a.ID, err
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

// startTestServer creates a server + returns its address.
func startTestServer(t *testing.T, configPath string) string {
	t.Helper()

	srv, err := server.New(server.Config{
		ConfigPath: configPath,
		Resolver: fakeResolver{
			"/bin/crashy": {ID: model.FileID{Inode: 10, MountID: 1}},
			"/bin/su":     {ID: model.FileID{Inode: 12, MountID: 1}, SetID: true},
		},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.ServeOn(lis)

	t.Cleanup(func() {
		srv.GracefulStop()
		srv.Close()
	})
	return lis.Addr().String()
}

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientCrashAndCheck(t *testing.T) {
	addr := startTestServer(t, writeTempFile(t, "segvguard.yaml", "status: force_enabled\nmax_crashes: 2\n"))
	c := newClient(t, addr)
	ctx := context.Background()

	d, err := c.Decide(ctx, "", "/bin/crashy")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d != model.Active {
		t.Fatalf("expected active under force_enabled, got %s", d)
	}

	proc := guard.Process{PID: 1, Name: "crashy", UID: 1000, Decision: d}
	for i := 0; i < 2; i++ {
		if _, err := c.Crash(ctx, proc, "/bin/crashy"); err != nil {
			t.Fatalf("Crash: %v", err)
		}
	}

	v, err := c.Check(ctx, proc, "/bin/crashy")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Decision != model.Deny {
		t.Errorf("expected deny, got %+v", v)
	}

	entries, shards, err := c.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if shards != 512 || len(entries) != 1 || entries[0].Crashes != 2 {
		t.Errorf("unexpected entries: shards=%d %+v", shards, entries)
	}
}

func TestClientScopes(t *testing.T) {
	addr := startTestServer(t, writeTempFile(t, "segvguard.yaml", "max_crashes: 5\n"))
	c := newClient(t, addr)
	ctx := context.Background()

	info, err := c.CreateScope(ctx, "jail", "")
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	if info.Name != "jail" || info.Config.MaxCrashes != 5 {
		t.Errorf("unexpected scope: %+v", info)
	}

	info, err = c.SetTunable(ctx, "jail", "status", "bogus")
	if err != nil {
		t.Fatalf("SetTunable: %v", err)
	}
	if info.Config.Mode.String() != "force_enabled" {
		t.Errorf("expected invalid status coerced to force_enabled, got %s", info.Config.Mode)
	}

	scopes, err := c.Scopes(ctx, "")
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("expected 2 scopes, got %d", len(scopes))
	}

	if err := c.DestroyScope(ctx, "jail"); err != nil {
		t.Fatalf("DestroyScope: %v", err)
	}
	if err := c.DestroyScope(ctx, "jail"); err == nil {
		t.Error("expected error destroying a missing scope")
	}
}

func TestClientUnreachable(t *testing.T) {
	c := newClient(t, "127.0.0.1:1")
	if _, err := c.Check(context.Background(), guard.Process{Decision: model.Active}, "/bin/crashy"); err == nil {
		t.Error("expected error from unreachable daemon")
	}
}
