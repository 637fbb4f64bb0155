package msgsock

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/juju/errors"
)

// Operations reported in Error.Op.
const (
	OpConnect = "connect"
	OpAccept  = "accept"
	OpReceive = "receive"
	OpSend    = "send"
	OpClose   = "close"
)

// ErrorKind is closed set of transport-fatal causes.
// Every *Error carries exactly one of them.
type ErrorKind uint8

const (
	kindInvalid ErrorKind = iota
	KindTimeout
	KindResolve
	KindNetwork
	KindPeerClosed
	KindIdleTimeout
	KindShortWrite
	KindHandshake
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindResolve:
		return "address error"
	case KindNetwork:
		return "error"
	case KindPeerClosed:
		return "disconnected"
	case KindIdleTimeout:
		return "idle timeout"
	case KindShortWrite:
		return "segment not sent"
	case KindHandshake:
		return "connection aborted"
	case KindClosed:
		return "closed"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the only error type returned by connection operations.
// After any *Error except KindClosed from Close(), connection is torn down.
type Error struct {
	Op   string
	Kind ErrorKind
	Name string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s %q", e.Op, e.Kind.String(), e.Name)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns ErrorKind of err produced by this package,
// or zero kind if err is nil or foreign.
func KindOf(err error) ErrorKind {
	if err == nil {
		return kindInvalid
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Kind
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return kindInvalid
}

func IsClosed(err error) bool { return KindOf(err) == KindClosed }

// classify maps socket level error into ErrorKind.
func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case err == nil:
		return kindInvalid
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, syscall.ECONNRESET), stderrors.Is(err, syscall.EPIPE):
		return KindPeerClosed
	case stderrors.Is(err, io.ErrShortWrite):
		return KindShortWrite
	case stderrors.Is(err, net.ErrClosed):
		return KindClosed
	case stderrors.As(err, &dnsErr):
		return KindResolve
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	}
	return KindNetwork
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
