package server

import (
	"context"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/segvguard/internal/audit"
	"github.com/ppiankov/segvguard/internal/clock"
	"github.com/ppiankov/segvguard/internal/execattr"
	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/scope"
	"github.com/ppiankov/segvguard/internal/wire"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

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

var testFiles = fakeResolver{
	"/bin/crashy": {ID: model.FileID{Inode: 10, MountID: 1}},
	"/bin/su":     {ID: model.FileID{Inode: 12, MountID: 1}, SetID: true},
}

// testServer spins up an in-process gRPC server on a random port and returns a client.
func testServer(t *testing.T, configPath string) (*wire.GuardClient, *Server, *clock.FakeClock) {
	t.Helper()

	c := clock.Fake(epoch)
	srv, err := New(Config{ConfigPath: configPath, Clock: c, Resolver: testFiles})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		srv.Close()
	})
	return wire.NewGuardClient(conn), srv, c
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

func proc(uid uint32) guard.Process {
	return guard.Process{PID: 321, Name: "crashy", UID: uid, Decision: model.Active}
}

func TestDecide(t *testing.T) {
	client, _, _ := testServer(t, writeTempFile(t, "segvguard.yaml", "status: optin\n"))
	ctx := context.Background()

	resp, err := client.Decide(ctx, &wire.DecideRequest{Path: "/bin/su"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Decision != "active" {
		t.Errorf("expected active for set-id program, got %s", resp.Decision)
	}

	resp, err = client.Decide(ctx, &wire.DecideRequest{Path: "/bin/crashy"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Decision != "inactive" {
		t.Errorf("expected inactive, got %s", resp.Decision)
	}

	_, err = client.Decide(ctx, &wire.DecideRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for empty path, got %v", err)
	}
}

func TestCrashThenCheckSuspends(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	cfgPath := writeTempFile(t, "segvguard.yaml", "max_crashes: 3\naudit_log: "+auditPath+"\n")
	client, srv, c := testServer(t, cfgPath)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		resp, err := client.Crash(ctx, &wire.CrashRequest{Process: proc(1000), Path: "/bin/crashy"})
		if err != nil {
			t.Fatalf("Crash %d: %v", i, err)
		}
		if resp.Result.Crashes != i {
			t.Errorf("expected %d crashes, got %d", i, resp.Result.Crashes)
		}
	}

	check, err := client.Check(ctx, &wire.CheckRequest{Process: proc(1000), Path: "/bin/crashy"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if check.Verdict.Allowed() {
		t.Fatalf("expected deny, got %+v", check.Verdict)
	}

	entries, err := client.Entries(ctx, &wire.EntriesRequest{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if entries.Shards != 512 || len(entries.Entries) != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries.Entries[0].State != model.Suspended {
		t.Errorf("expected suspended entry, got %s", entries.Entries[0].State)
	}

	c.Advance(600 * time.Second)
	check, err = client.Check(ctx, &wire.CheckRequest{Process: proc(1000), Path: "/bin/crashy"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Verdict.Allowed() {
		t.Errorf("expected allow after suspension, got %+v", check.Verdict)
	}

	srv.Close()
	result := audit.Verify(auditPath)
	if !result.Valid {
		t.Fatalf("expected valid audit chain, got %s", result.Error)
	}
	if result.Lines != 6 {
		t.Errorf("expected 6 audit lines, got %d", result.Lines)
	}
	if want := (audit.EventCounts{Crash: 3, Suspend: 1, Deny: 1, Expire: 1}); result.Counts != want {
		t.Errorf("expected counts %+v, got %+v", want, result.Counts)
	}

	// Entries are stamped by the server's clock.
	replay, err := audit.Replay(auditPath, audit.ReplayFilter{})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if want := epoch.Format(audit.TimestampFormat); replay.Summary.FirstTimestamp != want {
		t.Errorf("expected first timestamp %s, got %s", want, replay.Summary.FirstTimestamp)
	}
}

func TestScopeLifecycle(t *testing.T) {
	client, _, _ := testServer(t, "")
	ctx := context.Background()

	created, err := client.CreateScope(ctx, &wire.CreateScopeRequest{Name: "jail"})
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	if len(created.Scopes) != 1 || created.Scopes[0].Parent != scope.RootName {
		t.Fatalf("unexpected scope: %+v", created.Scopes)
	}

	if _, err := client.CreateScope(ctx, &wire.CreateScopeRequest{Name: "jail"}); status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
	if _, err := client.CreateScope(ctx, &wire.CreateScopeRequest{Name: "inner", Parent: "jail"}); err != nil {
		t.Fatalf("CreateScope inner: %v", err)
	}

	set, err := client.SetTunable(ctx, &wire.SetTunableRequest{Scope: "jail", Tunable: "max_crashes", Value: "2"})
	if err != nil {
		t.Fatalf("SetTunable: %v", err)
	}
	if set.Scopes[0].Config.MaxCrashes != 2 {
		t.Errorf("expected max_crashes 2, got %d", set.Scopes[0].Config.MaxCrashes)
	}

	if _, err := client.SetTunable(ctx, &wire.SetTunableRequest{Scope: "jail", Tunable: "max_crashes", Value: "0"}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	if _, err := client.SetTunable(ctx, &wire.SetTunableRequest{Scope: "jail", Tunable: "bogus", Value: "1"}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for unknown tunable, got %v", err)
	}

	inner, err := client.GetScope(ctx, &wire.GetScopeRequest{Name: "inner"})
	if err != nil {
		t.Fatalf("GetScope: %v", err)
	}
	if inner.Scopes[0].Config.MaxCrashes != scope.DefaultMaxCrashes {
		t.Errorf("expected inner to keep its snapshot, got %d", inner.Scopes[0].Config.MaxCrashes)
	}

	if _, err := client.DestroyScope(ctx, &wire.DestroyScopeRequest{Name: "jail"}); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition for busy scope, got %v", err)
	}
	if _, err := client.DestroyScope(ctx, &wire.DestroyScopeRequest{Name: "inner"}); err != nil {
		t.Fatalf("DestroyScope inner: %v", err)
	}
	if _, err := client.DestroyScope(ctx, &wire.DestroyScopeRequest{Name: "jail"}); err != nil {
		t.Fatalf("DestroyScope jail: %v", err)
	}
	if _, err := client.GetScope(ctx, &wire.GetScopeRequest{Name: "jail"}); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}

	all, err := client.GetScope(ctx, &wire.GetScopeRequest{})
	if err != nil {
		t.Fatalf("GetScope: %v", err)
	}
	if len(all.Scopes) != 1 || all.Scopes[0].Name != scope.RootName {
		t.Errorf("expected only root, got %+v", all.Scopes)
	}
}

func TestConcurrentCrashes(t *testing.T) {
	client, srv, _ := testServer(t, writeTempFile(t, "segvguard.yaml", "max_crashes: 1000\n"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Crash(context.Background(), &wire.CrashRequest{Process: proc(1000), Path: "/bin/crashy"}); err != nil {
				t.Errorf("Crash: %v", err)
			}
		}()
	}
	wg.Wait()

	snap := srv.Guard().Store().Snapshot()
	if len(snap) != 1 || snap[0].Crashes != 50 {
		t.Errorf("expected one entry with 50 crashes, got %+v", snap)
	}
}

func TestReloadConfigUpdatesRootOnly(t *testing.T) {
	cfgPath := writeTempFile(t, "segvguard.yaml", "max_crashes: 5\nscopes:\n  - name: jail\n")
	_, srv, _ := testServer(t, cfgPath)
	before := srv.ConfigHash()

	if err := os.WriteFile(cfgPath, []byte("max_crashes: 2\nscopes:\n  - name: jail\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := srv.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}

	reg := srv.Guard().Registry()
	if reg.Root().MaxCrashes != 2 {
		t.Errorf("expected root max_crashes 2, got %d", reg.Root().MaxCrashes)
	}
	jail, _ := reg.Get("jail")
	if jail.MaxCrashes != 5 {
		t.Errorf("expected existing scope to keep 5, got %d", jail.MaxCrashes)
	}
	if srv.ConfigHash() == before {
		t.Error("expected config hash to change")
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	cfgPath := writeTempFile(t, "segvguard.yaml", "max_crashes: 4\n")
	_, srv, _ := testServer(t, cfgPath)

	os.WriteFile(cfgPath, []byte("max_crashes: 0\n"), 0644)
	if err := srv.ReloadConfig(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := srv.Guard().Registry().Root().MaxCrashes; got != 4 {
		t.Errorf("expected previous config to stay, got max_crashes %d", got)
	}
}

func TestReloaderCreation(t *testing.T) {
	cfgPath := writeTempFile(t, "segvguard.yaml", "max_crashes: 5\n")

	srv, err := New(Config{ConfigPath: cfgPath, Resolver: testFiles})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	r, err := NewReloader(srv, []string{cfgPath, "", filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.Paths()) != 1 {
		t.Fatalf("expected 1 watched path, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	// Write to trigger reload
	os.WriteFile(cfgPath, []byte("max_crashes: 9\n"), 0644)
	time.Sleep(800 * time.Millisecond) // debounce is 500ms

	if got := srv.Guard().Registry().Root().MaxCrashes; got != 9 {
		t.Errorf("expected max_crashes 9 after reload, got %d", got)
	}

	cancel()
}

func TestReloaderDebouncesOnServerClock(t *testing.T) {
	cfgPath := writeTempFile(t, "segvguard.yaml", "max_crashes: 5\n")
	_, srv, c := testServer(t, cfgPath)

	r, err := NewReloader(srv, []string{cfgPath})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	if err := os.WriteFile(cfgPath, []byte("max_crashes: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Pending() == 0 {
		t.Fatal("expected a pending debounce timer after the write")
	}

	// Wall time alone does not fire the reload.
	time.Sleep(700 * time.Millisecond)
	if got := srv.Guard().Registry().Root().MaxCrashes; got != 5 {
		t.Fatalf("reload ran before the debounce elapsed, max_crashes=%d", got)
	}

	for srv.Guard().Registry().Root().MaxCrashes != 7 && time.Now().Before(deadline.Add(time.Second)) {
		c.Advance(reloadDebounce)
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.Guard().Registry().Root().MaxCrashes; got != 7 {
		t.Errorf("expected max_crashes 7 after debounce, got %d", got)
	}
}

func TestReaperUsesConfiguredInterval(t *testing.T) {
	client, srv, c := testServer(t, writeTempFile(t, "segvguard.yaml", "sweep_interval: 10s\n"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := client.Crash(ctx, &wire.CrashRequest{Process: proc(7), Path: "/bin/crashy"}); err != nil {
		t.Fatalf("Crash: %v", err)
	}

	done := make(chan struct{})
	go func() {
		srv.Reaper().Run(ctx)
		close(done)
	}()
	c.WaitForTimers(1)

	c.Advance(scope.DefaultExpiry * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for srv.Guard().Store().Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := srv.Guard().Store().Len(); n != 0 {
		t.Errorf("expected reaper to evict the entry, %d left", n)
	}

	cancel()
	<-done
}
