package msgsock

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
)

// Supervisor owns receive loop of one logical peer link.
// Client supervisor also reconnects with stepped backoff.
type Supervisor struct {
	alive   *alive.Alive
	opt     Options
	log     *log2.Log
	backoff *helpers.Backoff

	// dial target, empty host for accepted links
	host string
	port int

	mu   sync.Mutex
	conn *Conn
}

// NewSupervisor drives already established connection.
// Loop ends with connection, there is no reconnect.
func NewSupervisor(conn *Conn, opt Options) *Supervisor {
	s := newSupervisor(opt)
	s.conn = conn
	return s
}

// NewClient connects to host:port on Start and keeps reconnecting until Stop.
func NewClient(host string, port int, opt Options) *Supervisor {
	s := newSupervisor(opt)
	s.host = host
	s.port = port
	return s
}

func newSupervisor(opt Options) *Supervisor {
	opt.applyDefaults()
	return &Supervisor{
		alive:   alive.NewAlive(),
		opt:     opt,
		log:     opt.Log,
		backoff: helpers.NewBackoff(opt.Reconnect),
	}
}

func (s *Supervisor) Start() {
	if !s.alive.Add(1) {
		s.log.Debugf("supervisor %q start after stop", s.Name())
		return
	}
	go s.run()
}

// Stop is safe to call from any goroutine, repeated calls are no-op.
// Waits for receive loop to notice, bounded by socket timeout.
func (s *Supervisor) Stop() {
	s.alive.Stop()
	s.alive.Wait()
	if c := s.Conn(); c != nil && c.Connected() {
		_ = c.Close()
	}
}

func (s *Supervisor) IsRunning() bool { return s.alive.IsRunning() }

// Done is closed after Stop and loop exit.
func (s *Supervisor) Done() <-chan struct{} { return s.alive.WaitChan() }

// Conn returns current connection, nil while client is not connected.
func (s *Supervisor) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connected reports whether current connection is usable for Send.
func (s *Supervisor) Connected() bool {
	c := s.Conn()
	return c != nil && c.Connected()
}

// Name is connection name or dial target.
func (s *Supervisor) Name() string {
	if c := s.Conn(); c != nil {
		return c.Name()
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Send joins args with single space and sends them as one frame.
func (s *Supervisor) Send(args ...string) (int, error) {
	return s.SendText(JoinArgs(args...))
}

// SendText frames text verbatim.
func (s *Supervisor) SendText(text string) (int, error) {
	c := s.Conn()
	if c == nil {
		return 0, &Error{Op: OpSend, Kind: KindClosed, Name: s.Name()}
	}
	return c.Send(text)
}

// Failures is number of consecutive failed connects/disconnects since last success.
func (s *Supervisor) Failures() int { return s.backoff.Failures() }

func (s *Supervisor) setConn(c *Conn) {
	helpers.WithLock(&s.mu, func() { s.conn = c })
}

func (s *Supervisor) run() {
	defer s.alive.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	dial := s.host != ""
	s.log.Debugf("supervisor %q started", s.Name())
	defer s.log.Debugf("supervisor %q ended", s.Name())
	for {
		c := s.Conn()
		if c == nil {
			if c = s.connect(ctx); c == nil {
				return
			}
		}
		s.receiveLoop(c)
		if !dial || !s.alive.IsRunning() {
			return
		}
		// link lost, next connect waits like after failed attempt
		if !s.wait(s.backoff.Failure()) {
			return
		}
		s.setConn(nil)
	}
}

// connect tries until success or Stop.
func (s *Supervisor) connect(ctx context.Context) *Conn {
	for s.alive.IsRunning() {
		c, err := Dial(ctx, s.host, s.port, s.opt)
		if err == nil {
			s.backoff.Reset()
			s.setConn(c)
			return c
		}
		if !s.alive.IsRunning() {
			break
		}
		if !s.wait(s.backoff.Failure()) {
			break
		}
	}
	return nil
}

func (s *Supervisor) wait(d time.Duration) bool {
	s.opt.Metrics.reconnect()
	s.log.Infof("reconnect %s attempt=%d delay=%v", s.Name(), s.backoff.Failures(), d)
	return helpers.AliveSleep(s.alive, d)
}

func (s *Supervisor) receiveLoop(c *Conn) {
	for s.alive.IsRunning() {
		payload, err := c.Receive()
		if err != nil {
			return
		}
		if payload == "" {
			// idle links still report on schedule
			c.Stat().ReportIfDue(time.Now())
			continue
		}
		if s.opt.OnMessage != nil {
			s.opt.OnMessage(c.Name(), payload)
		}
	}
}
