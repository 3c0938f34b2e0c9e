//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms
// without a socket option hook.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
