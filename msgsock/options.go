package msgsock

import (
	"os"
	"time"

	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
)

const (
	DefaultSocketTimeout  = 10 * time.Second
	DefaultStatusInterval = 600 * time.Second
	DefaultPlaceholder    = "test msg"
)

// MessageFunc receives every successfully decoded non-empty payload.
type MessageFunc = func(source, payload string)

// LinkFunc reports link state change by link name.
// OnDisconnected is called exactly once per connection teardown.
type LinkFunc = func(source string)

// Options are fixed at construction and shared by all links of one side.
// Frame length must match on both ends, it is not negotiated.
type Options struct {
	Log     *log2.Log
	Metrics *Metrics

	// payload width in bytes, total frame = HeaderLen + DataLen
	DataLen int
	// bounds every connect, read and write call
	SocketTimeout time.Duration
	// idle receive timeout, 0 disables
	RecvTimeout    time.Duration
	StatusInterval time.Duration
	// sent as first frame by client, os.Hostname() if empty
	Hostname  string
	Reconnect []helpers.BackoffStep

	OnMessage      MessageFunc
	OnConnected    LinkFunc
	OnDisconnected LinkFunc
}

func (o *Options) applyDefaults() {
	if o.DataLen <= 0 {
		o.DataLen = DefaultDataLen
	}
	if o.SocketTimeout <= 0 {
		o.SocketTimeout = DefaultSocketTimeout
	}
	if o.RecvTimeout < 0 {
		o.RecvTimeout = 0
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = DefaultStatusInterval
	}
	if len(o.Reconnect) == 0 {
		o.Reconnect = helpers.DefaultBackoffSteps
	}
}

func (o *Options) hostname() string {
	if o.Hostname != "" {
		return o.Hostname
	}
	h, err := os.Hostname()
	if err != nil {
		o.Log.Errorf("hostname err=%v", err)
		return "unknown"
	}
	return h
}
