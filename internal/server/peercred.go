package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var errPeerCredUnsupported = errors.New("peer credentials not supported on this platform")

// PeerCred is the auth info attached to every accepted connection.
// Verified is set when the kernel reported the peer's credentials, which
// only happens on unix sockets.
type PeerCred struct {
	credentials.CommonAuthInfo
	Verified bool
	UID      uint32
	PID      int32
}

// AuthType implements credentials.AuthInfo.
func (PeerCred) AuthType() string { return "peercred" }

// peerCredentials is server-side transport credentials that read
// SO_PEERCRED from unix connections. The byte stream is not altered, so
// clients dial with insecure credentials.
type peerCredentials struct{}

func (peerCredentials) ClientHandshake(context.Context, string, net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return nil, nil, errors.New("peercred: client handshake not supported")
}

func (peerCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	info := PeerCred{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return conn, info, nil
	}
	uid, pid, err := readPeerCred(uc)
	if errors.Is(err, errPeerCredUnsupported) {
		return conn, info, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("peercred: %w", err)
	}
	info.Verified = true
	info.UID = uid
	info.PID = pid
	return conn, info, nil
}

func (peerCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "peercred"}
}

func (peerCredentials) Clone() credentials.TransportCredentials { return peerCredentials{} }

func (peerCredentials) OverrideServerName(string) error { return nil }

func peerCredFrom(ctx context.Context) (PeerCred, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return PeerCred{}, false
	}
	cred, ok := p.AuthInfo.(PeerCred)
	if !ok || !cred.Verified {
		return PeerCred{}, false
	}
	return cred, true
}

// authorizeUID lets a verified peer act only for its own uid. Root may
// act for any uid. Unverified (TCP) peers are not checked.
func authorizeUID(ctx context.Context, uid uint32) error {
	cred, ok := peerCredFrom(ctx)
	if !ok || cred.UID == 0 || cred.UID == uid {
		return nil
	}
	return status.Errorf(codes.PermissionDenied, "peer uid %d may not act for uid %d", cred.UID, uid)
}

// authorizeAdmin restricts scope changes to root when the peer is verified.
func authorizeAdmin(ctx context.Context) error {
	cred, ok := peerCredFrom(ctx)
	if !ok || cred.UID == 0 {
		return nil
	}
	return status.Errorf(codes.PermissionDenied, "peer uid %d may not change scopes", cred.UID)
}
