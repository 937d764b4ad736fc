//go:build !linux

package server

import "net"

func readPeerCred(*net.UnixConn) (uint32, int32, error) {
	return 0, 0, errPeerCredUnsupported
}
