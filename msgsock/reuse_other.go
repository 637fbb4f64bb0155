//go:build !unix

package msgsock

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error { return nil }
