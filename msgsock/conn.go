package msgsock

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
)

type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Conn is one end of a fixed length frame link.
// Disconnected is terminal, reconnect creates new Conn.
type Conn struct {
	last   int64 // atomic UnixNano of last receipt, first for 32-bit alignment
	state  uint32 // atomic State
	name   atomic.Value
	net    net.Conn
	r      io.Reader
	w      io.Writer
	opt    Options
	log    *log2.Log
	framer Framer
	stat   *LinkStat

	sendMu  sync.Mutex
	sendSeq uint32

	// receive side only, single reader
	buf  []byte
	have int
}

// Dial connects to host:port and sends own hostname as first frame.
// On any failure returned Conn is nil and error is *Error with Op=connect.
func Dial(ctx context.Context, host string, port int, opt Options) (*Conn, error) {
	opt.applyDefaults()
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: opt.SocketTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		e := &Error{Op: OpConnect, Kind: classify(err), Name: hostport, Err: err}
		if ctx.Err() != nil {
			e.Kind = KindClosed
			opt.Log.Debugf("%v", e)
		} else {
			opt.Log.Errorf("%v", e)
		}
		return nil, e
	}

	c := newConn(netConn, opt)
	c.attach(fmt.Sprintf("%s[%s]", host, addrString(netConn.RemoteAddr())))
	atomic.StoreUint32(&c.state, uint32(StateConnecting))
	if _, err = c.send(opt.hostname(), StateConnecting); err != nil {
		return nil, &Error{Op: OpConnect, Kind: KindOf(err), Name: c.Name(), Err: err}
	}
	if !atomic.CompareAndSwapUint32(&c.state, uint32(StateConnecting), uint32(StateConnected)) {
		return nil, c.closedError(OpConnect)
	}
	c.up()
	return c, nil
}

// Accept wraps already accepted socket and waits for peer hostname
// as first frame. Empty first receive aborts the connection.
func Accept(netConn net.Conn, opt Options) (*Conn, error) {
	opt.applyDefaults()
	c := newConn(netConn, opt)
	c.attach(fmt.Sprintf("[%s]", addrString(netConn.RemoteAddr())))
	atomic.StoreUint32(&c.state, uint32(StateConnecting))

	hostname, err := c.Receive()
	if err != nil {
		return nil, &Error{Op: OpAccept, Kind: KindOf(err), Name: c.Name(), Err: err}
	}
	if hostname == "" {
		e := &Error{Op: OpAccept, Kind: KindHandshake, Name: c.Name()}
		c.shutdown(e)
		return nil, e
	}

	// fresh statistics under final name, handshake frame is not reported
	c.attach(hostname + c.Name())
	if !atomic.CompareAndSwapUint32(&c.state, uint32(StateConnecting), uint32(StateConnected)) {
		return nil, c.closedError(OpAccept)
	}
	c.up()
	return c, nil
}

func newConn(netConn net.Conn, opt Options) *Conn {
	c := &Conn{
		net:    netConn,
		opt:    opt,
		log:    opt.Log,
		framer: NewFramer(opt.DataLen, opt.Log),
	}
	c.buf = make([]byte, c.framer.FrameLen())
	c.setName("")
	if tcp, ok := netConn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetNoDelay(true)
	}
	atomic.StoreInt64(&c.last, time.Now().UnixNano())
	return c
}

// attach names the link and starts new statistics.
// Must be called before Conn is shared between goroutines.
func (c *Conn) attach(name string) {
	c.setName(name)
	ls := NewLinkStat(name, &c.opt)
	if c.stat != nil {
		ls.RecvBytes.Add(c.stat.RecvBytes.Value())
		ls.SendBytes.Add(c.stat.SendBytes.Value())
	}
	c.stat = ls
	c.r = helpers.NewStatReader(c.net, &ls.RecvBytes, c.opt.Metrics.byteAdder("recv"))
	c.w = helpers.NewStatWriter(c.net, &ls.SendBytes, c.opt.Metrics.byteAdder("send"))
}

func (c *Conn) up() {
	c.opt.Metrics.linkUp()
	c.log.Infof("connected %q", c.Name())
	if c.opt.OnConnected != nil {
		c.opt.OnConnected(c.Name())
	}
}

func (c *Conn) Name() string                 { return c.name.Load().(string) }
func (c *Conn) State() State                 { return State(atomic.LoadUint32(&c.state)) }
func (c *Conn) Connected() bool              { return c.State() == StateConnected }
func (c *Conn) Stat() *LinkStat              { return c.stat }
func (c *Conn) LocalAddr() net.Addr          { return c.net.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *Conn) SinceLastRecv() time.Duration {
	return time.Duration(time.Now().UnixNano() - atomic.LoadInt64(&c.last))
}

func (c *Conn) String() string {
	return fmt.Sprintf("(name=%s local=%s remote=%s state=%s)",
		c.Name(), addrString(c.LocalAddr()), addrString(c.RemoteAddr()), c.State())
}

func (c *Conn) setName(s string) { c.name.Store(s) }

// Receive reads exactly one frame.
// Results:
// - payload, nil: valid message
// - "", nil: no usable message this call (read timeout, soft frame error), connection open
// - "", *Error: connection is torn down (socket error, peer closed, idle timeout)
// One call blocks at most SocketTimeout, even if peer trickles bytes.
// Bytes of incomplete frame are kept across calls.
// Not safe for concurrent use, one receive loop per Conn.
func (c *Conn) Receive() (string, error) {
	if c.State() == StateDisconnected {
		return "", c.closedError(OpReceive)
	}
	if err := c.net.SetReadDeadline(time.Now().Add(c.opt.SocketTimeout)); err != nil {
		return "", c.fail(OpReceive, err)
	}
	frameLen := len(c.buf)
	for c.have < frameLen {
		n, err := c.r.Read(c.buf[c.have:frameLen])
		c.have += n
		if err != nil && !isTimeout(err) {
			return "", c.fail(OpReceive, err)
		}
		if c.have < frameLen && c.idle() {
			e := &Error{Op: OpReceive, Kind: KindIdleTimeout, Name: c.Name(), Err: err}
			c.shutdown(e)
			return "", e
		}
		if err != nil {
			return "", nil
		}
	}

	c.have = 0
	now := time.Now()
	atomic.StoreInt64(&c.last, now.UnixNano())
	return c.stat.RecordReceive(c.buf[:frameLen], now), nil
}

// idle is true when no whole frame arrived within RecvTimeout.
func (c *Conn) idle() bool {
	return c.opt.RecvTimeout != 0 && c.SinceLastRecv() >= c.opt.RecvTimeout
}

// Send frames text and writes whole frame.
// Any write failure tears connection down.
// Safe for concurrent use, frames never interleave.
func (c *Conn) Send(text string) (int, error) { return c.send(text, StateConnected) }

// send writes only in expected state, handshake goes out while Connecting.
func (c *Conn) send(text string, want State) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.State() != want {
		return 0, c.closedError(OpSend)
	}

	b := c.framer.Encode(c.sendSeq, time.Now(), text)
	if err := c.net.SetWriteDeadline(time.Now().Add(c.opt.SocketTimeout)); err != nil {
		return 0, c.fail(OpSend, err)
	}
	n, err := helpers.WriteAll(c.w, b)
	if err != nil {
		return n, c.fail(OpSend, err)
	}
	c.stat.RecordSend()
	c.sendSeq = NextSeq(c.sendSeq)
	return n, nil
}

// Close tears connection down if still open. Repeated calls are no-op.
func (c *Conn) Close() error {
	c.shutdown(&Error{Op: OpClose, Kind: KindClosed, Name: c.Name()})
	return nil
}

func (c *Conn) closedError(op string) error {
	return &Error{Op: op, Kind: KindClosed, Name: c.Name()}
}

func (c *Conn) fail(op string, err error) error {
	e := &Error{Op: op, Kind: classify(err), Name: c.Name(), Err: err}
	c.shutdown(e)
	return e
}

// shutdown is idempotent. Concurrent failures of read and write paths
// collapse on the state swap: only first caller closes socket
// and calls OnDisconnected, others just log at debug level.
func (c *Conn) shutdown(reason *Error) bool {
	prev := State(atomic.SwapUint32(&c.state, uint32(StateDisconnected)))
	if prev == StateDisconnected {
		c.log.Debugf("%v", reason)
		return false
	}

	if reason.Kind == KindClosed {
		c.log.Infof("closed %q", c.Name())
	} else {
		c.log.Errorf("%v", reason)
	}
	closeBoth(c.net)

	if prev == StateConnected {
		c.opt.Metrics.linkDown(reason.Kind)
		if c.opt.OnDisconnected != nil {
			c.opt.OnDisconnected(c.Name())
		}
	}
	return true
}
