package msgsock

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
)

const DefaultListen = ":50000"

// MessageSource blocks until next outbound message or stop.
// Empty result skips broadcast iteration.
type MessageSource func(stop <-chan struct{}) string

// PlaceholderSource yields text every interval.
func PlaceholderSource(text string, every time.Duration) MessageSource {
	return func(stop <-chan struct{}) string {
		t := time.NewTimer(every)
		defer t.Stop()
		select {
		case <-t.C:
			return text
		case <-stop:
			return ""
		}
	}
}

// ChanSource yields messages from ch. Closed ch yields nothing until stop.
func ChanSource(ch <-chan string) MessageSource {
	return func(stop <-chan struct{}) string {
		select {
		case s, ok := <-ch:
			if !ok {
				<-stop
				return ""
			}
			return s
		case <-stop:
			return ""
		}
	}
}

type ServerOptions struct {
	Options

	// host:port, default DefaultListen
	Listen string
	// nil means Placeholder every Keepalive
	Source      MessageSource
	Keepalive   time.Duration
	Placeholder string
}

// pause after non-timeout Accept error, e.g. out of file descriptors
const acceptErrorDelay = 100 * time.Millisecond

type deadlineListener interface {
	net.Listener
	SetDeadline(time.Time) error
}

// Server accepts links and fans out outbound messages to all of them.
type Server struct {
	alive *alive.Alive
	log   *log2.Log
	opt   ServerOptions
	ll    deadlineListener
	name  string

	mu    sync.RWMutex
	links []*Supervisor
}

func NewServer(opt ServerOptions) *Server {
	opt.applyDefaults()
	if opt.Listen == "" {
		opt.Listen = DefaultListen
	}
	if opt.Keepalive <= 0 {
		opt.Keepalive = opt.SocketTimeout
	}
	if opt.Placeholder == "" {
		opt.Placeholder = DefaultPlaceholder
	}
	if opt.Source == nil {
		opt.Source = PlaceholderSource(opt.Placeholder, opt.Keepalive)
	}
	return &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}
}

// Start binds listener with SO_REUSEADDR and starts accept and broadcast loops.
// Bind error is returned once, server is not started.
func (s *Server) Start() error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	l, err := lc.Listen(context.Background(), "tcp", s.opt.Listen)
	if err != nil {
		err = errors.Annotatef(err, "listen %s", s.opt.Listen)
		s.log.Errorf("%v", err)
		s.alive.Stop()
		return err
	}
	s.ll = l.(*net.TCPListener)
	s.name = s.opt.hostname() + "[" + s.ll.Addr().String() + "]"

	if !s.alive.Add(2) {
		_ = s.ll.Close()
		return errors.Errorf("server %s start after stop", s.name)
	}
	s.log.Infof("accepting client connections %q", s.name)
	go s.acceptLoop()
	go s.broadcastLoop()
	return nil
}

// Addr is nil before successful Start.
func (s *Server) Addr() net.Addr {
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

// Stop waits for accept and broadcast loops, then stops every link.
func (s *Server) Stop() {
	s.alive.Stop()
	s.alive.Wait()
	if s.ll != nil {
		_ = s.ll.Close()
	}

	s.mu.Lock()
	links := s.links
	s.links = nil
	s.mu.Unlock()
	var wg sync.WaitGroup
	for _, sv := range links {
		wg.Add(1)
		go func(sv *Supervisor) {
			defer wg.Done()
			sv.Stop()
		}(sv)
	}
	wg.Wait()
	s.log.Debugf("server %q stopped", s.name)
}

// Links returns snapshot of registered link supervisors.
func (s *Server) Links() []*Supervisor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Supervisor(nil), s.links...)
}

// Conns returns names of connected links.
func (s *Server) Conns() []string {
	links := s.Links()
	names := make([]string, 0, len(links))
	for _, sv := range links {
		if sv.Connected() {
			names = append(names, sv.Name())
		}
	}
	return names
}

// Broadcast sends text to every connected link concurrently.
// Returns number of links that got the frame.
func (s *Server) Broadcast(text string) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for _, sv := range s.Links() {
		if !sv.IsRunning() || !sv.Connected() {
			continue
		}
		wg.Add(1)
		go func(sv *Supervisor) {
			defer wg.Done()
			if _, err := sv.SendText(text); err != nil {
				s.log.Debugf("broadcast %q err=%v", sv.Name(), err)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(sv)
	}
	wg.Wait()
	return sent
}

func (s *Server) acceptLoop() {
	defer s.alive.Done()
	for s.alive.IsRunning() {
		if err := s.ll.SetDeadline(time.Now().Add(s.opt.SocketTimeout)); err != nil {
			s.log.Errorf("accept %q deadline err=%v", s.name, err)
			return
		}
		netConn, err := s.ll.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !s.alive.IsRunning() {
				return
			}
			s.log.Errorf("accept %q err=%v", s.name, err)
			if !helpers.AliveSleep(s.alive, acceptErrorDelay) {
				return
			}
			continue
		}
		if !s.alive.Add(1) {
			closeBoth(netConn)
			return
		}
		go s.processConn(netConn)
	}
}

// processConn completes handshake off the accept loop.
func (s *Server) processConn(netConn net.Conn) {
	defer s.alive.Done()
	c, err := Accept(netConn, s.opt.Options)
	if err != nil {
		return
	}
	sv := NewSupervisor(c, s.opt.Options)
	helpers.WithLock(&s.mu, func() { s.links = append(s.links, sv) })
	sv.Start()
}

func (s *Server) broadcastLoop() {
	defer s.alive.Done()
	stopch := s.alive.StopChan()
	for s.alive.IsRunning() {
		msg := s.opt.Source(stopch)
		if msg != "" && s.alive.IsRunning() {
			s.Broadcast(msg)
		}
		s.prune()
	}
}

// prune forgets links whose connection is gone.
func (s *Server) prune() {
	s.mu.Lock()
	var dead []*Supervisor
	live := s.links[:0]
	for _, sv := range s.links {
		if sv.Connected() {
			live = append(live, sv)
		} else {
			dead = append(dead, sv)
		}
	}
	for i := len(live); i < len(s.links); i++ {
		s.links[i] = nil
	}
	s.links = live
	s.mu.Unlock()

	for _, sv := range dead {
		sv.Stop()
	}
}
