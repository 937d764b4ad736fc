package server

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/segvguard/internal/clock"
	"github.com/ppiankov/segvguard/internal/config"
	"github.com/ppiankov/segvguard/internal/wire"
)

func withPeer(cred PeerCred) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{AuthInfo: cred})
}

func TestAuthorizeUID(t *testing.T) {
	tests := []struct {
		name  string
		ctx   context.Context
		uid   uint32
		allow bool
	}{
		{"no peer", context.Background(), 1000, true},
		{"unverified peer", withPeer(PeerCred{UID: 7}), 1000, true},
		{"own uid", withPeer(PeerCred{Verified: true, UID: 1000}), 1000, true},
		{"root for other uid", withPeer(PeerCred{Verified: true, UID: 0}), 1000, true},
		{"other uid", withPeer(PeerCred{Verified: true, UID: 1001}), 1000, false},
		{"user for root", withPeer(PeerCred{Verified: true, UID: 1001}), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeUID(tt.ctx, tt.uid)
			if tt.allow && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tt.allow && status.Code(err) != codes.PermissionDenied {
				t.Fatalf("expected PermissionDenied, got %v", err)
			}
		})
	}
}

func TestAuthorizeAdmin(t *testing.T) {
	if err := authorizeAdmin(withPeer(PeerCred{Verified: true, UID: 0})); err != nil {
		t.Errorf("root must be allowed: %v", err)
	}
	if err := authorizeAdmin(withPeer(PeerCred{UID: 1000})); err != nil {
		t.Errorf("unverified peer must not be checked: %v", err)
	}
	err := authorizeAdmin(withPeer(PeerCred{Verified: true, UID: 1000}))
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied for non-root, got %v", err)
	}
}

func TestUnixSocketVerifiesPeerUID(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SO_PEERCRED is linux only")
	}

	srv, err := New(Config{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Clock:      clock.Fake(epoch),
		Resolver:   testFiles,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sock := "unix:" + filepath.Join(t.TempDir(), "g.sock")
	lis, err := listen(sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(config.DialTarget(sock), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		srv.Close()
	})
	client := wire.NewGuardClient(conn)
	ctx := context.Background()

	self := uint32(os.Getuid())
	if _, err := client.Crash(ctx, &wire.CrashRequest{Process: proc(self), Path: "/bin/crashy"}); err != nil {
		t.Fatalf("crash for own uid: %v", err)
	}
	if _, err := client.Check(ctx, &wire.CheckRequest{Process: proc(self), Path: "/bin/crashy"}); err != nil {
		t.Fatalf("check for own uid: %v", err)
	}

	other := self + 1
	_, crashErr := client.Crash(ctx, &wire.CrashRequest{Process: proc(other), Path: "/bin/crashy"})
	_, scopeErr := client.CreateScope(ctx, &wire.CreateScopeRequest{Name: "jail", Parent: "root"})
	if self == 0 {
		if crashErr != nil || scopeErr != nil {
			t.Fatalf("root peer must be allowed: crash=%v scope=%v", crashErr, scopeErr)
		}
		return
	}
	if status.Code(crashErr) != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied for another uid, got %v", crashErr)
	}
	if status.Code(scopeErr) != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied for scope change, got %v", scopeErr)
	}
	if n := srv.Guard().Store().Len(); n != 1 {
		t.Errorf("expected only the own-uid entry, got %d", n)
	}
}

func TestListenRefusesNonSocketPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	if err := os.WriteFile(path, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := listen("unix:" + path); err == nil {
		t.Fatal("expected error for a regular file at the socket path")
	}
	if data, _ := os.ReadFile(path); string(data) != "keep" {
		t.Error("regular file was replaced")
	}
}
