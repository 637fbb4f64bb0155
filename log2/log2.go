// Package log2 solves these issues:
// - log level filtering, e.g. show debug messages in internal tests only
// - safe concurrent change of log level
// - observe error lines from tests without parsing output
//
// Primary goal was to run parallel tests and log into t.Logf() safely,
// and TBH, would have been enough to pass around explicit stdlib *log.Logger.
// Well, log levels is just a cherry on top.
package log2

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/juju/errors"
)

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LWarning
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

var levelNames = map[string]Level{
	"error":   LError,
	"warning": LWarning,
	"info":    LInfo,
	"debug":   LDebug,
	"all":     LAll,
}

// ParseLevel accepts error|warning|info|debug|all, empty means info.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LInfo, nil
	}
	if l, ok := levelNames[strings.ToLower(s)]; ok {
		return l, nil
	}
	return LInfo, errors.NotValidf("log level=%q", s)
}

type ErrorFunc func(error)

type Log struct {
	l       *log.Logger
	level   Level
	w       io.Writer
	fatalf  Func
	errfunc atomic.Value // ErrorFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }
func NewWriter(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

type Func func(format string, args ...interface{})
type FuncWriter struct{ Func }

func NewFunc(f Func, level Level) *Log { return NewWriter(FuncWriter{f}, level) }
func (self FuncWriter) Write(b []byte) (int, error) {
	self.Func("%s", strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	self := NewFunc(t.Logf, level)
	self.fatalf = t.Fatalf
	self.SetFlags(LTestFlags)
	return self
}

func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	l := NewWriter(self.w, level)
	l.SetFlags(self.l.Flags())
	l.SetPrefix(self.l.Prefix())
	l.fatalf = self.fatalf
	if f, ok := self.errfunc.Load().(ErrorFunc); ok {
		l.errfunc.Store(f)
	}
	return l
}

func (self *Log) SetLevel(l Level) {
	if self == nil {
		return
	}
	atomic.StoreInt32((*int32)(&self.level), int32(l))
}

func (self *Log) SetFlags(f int) {
	if self == nil {
		return
	}
	self.l.SetFlags(f)
}

func (self *Log) SetPrefix(prefix string) {
	if self == nil {
		return
	}
	self.l.SetPrefix(prefix)
}

// SetErrorFunc registers f to receive every error passed to Error/Errorf,
// regardless of level filter.
func (self *Log) SetErrorFunc(f ErrorFunc) {
	if self == nil {
		return
	}
	self.errfunc.Store(f)
}

func (self *Log) Enabled(level Level) bool {
	if self == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&self.level)) >= int32(level)
}

func (self *Log) Log(level Level, s string) {
	if self.Enabled(level) {
		_ = self.l.Output(3, s)
	}
}
func (self *Log) Logf(level Level, format string, args ...interface{}) {
	if self.Enabled(level) {
		_ = self.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (self *Log) Error(args ...interface{}) {
	if self == nil {
		return
	}
	self.callErrorFunc(args...)
	self.Log(LError, "error: "+fmt.Sprint(args...))
}
func (self *Log) Errorf(format string, args ...interface{}) {
	if self == nil {
		return
	}
	self.callErrorFunc(fmt.Errorf(format, args...))
	self.Logf(LError, "error: "+format, args...)
}
func (self *Log) Warning(args ...interface{}) {
	self.Log(LWarning, "warning: "+fmt.Sprint(args...))
}
func (self *Log) Warningf(format string, args ...interface{}) {
	self.Logf(LWarning, "warning: "+format, args...)
}
func (self *Log) Info(args ...interface{}) {
	self.Log(LInfo, fmt.Sprint(args...))
}
func (self *Log) Infof(format string, args ...interface{}) {
	self.Logf(LInfo, format, args...)
}
func (self *Log) Debug(args ...interface{}) {
	self.Log(LDebug, "debug: "+fmt.Sprint(args...))
}
func (self *Log) Debugf(format string, args ...interface{}) {
	self.Logf(LDebug, "debug: "+format, args...)
}

// Printf is Infof, satisfies paho mqtt.Logger.
func (self *Log) Printf(format string, args ...interface{}) {
	self.Logf(LInfo, format, args...)
}

// Println satisfies paho mqtt.Logger.
func (self *Log) Println(args ...interface{}) {
	self.Log(LInfo, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (self *Log) Fatalf(format string, args ...interface{}) {
	if self != nil && self.fatalf != nil {
		self.fatalf(format, args...)
		return
	}
	self.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}
func (self *Log) Fatal(args ...interface{}) {
	s := fmt.Sprint(args...)
	if self != nil && self.fatalf != nil {
		self.fatalf("%s", s)
		return
	}
	self.Logf(LError, "fatal: %s", s)
	os.Exit(1)
}

func (self *Log) callErrorFunc(args ...interface{}) {
	f, ok := self.errfunc.Load().(ErrorFunc)
	if !ok || f == nil {
		return
	}
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			f(e)
			return
		}
	}
	f(fmt.Errorf("%s", fmt.Sprint(args...)))
}
