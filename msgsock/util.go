package msgsock

import (
	"net"
	"strings"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// closeBoth shuts down both directions before close, so peer sees EOF promptly.
func closeBoth(c net.Conn) {
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
		_ = tcp.CloseWrite()
	}
	_ = c.Close()
}

// JoinArgs formats request arguments the way host application sends commands.
func JoinArgs(args ...string) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}
