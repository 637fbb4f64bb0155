package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

const (
	DefaultClientHost  = "localhost"
	DefaultClientPort  = 50000
	DefaultTopicPrefix = "msgsock"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	// frame length must be same on both ends
	Link struct {
		DataLen           int    `hcl:"data_len"`
		SocketTimeoutMs   int    `hcl:"socket_timeout_ms"`
		RecvTimeoutSec    int    `hcl:"recv_timeout_sec"`
		StatusIntervalSec int    `hcl:"status_interval_sec"`
		Hostname          string `hcl:"hostname"`
	} `hcl:"link"`

	Server struct {
		Listen       string `hcl:"listen"`
		KeepaliveSec int    `hcl:"keepalive_sec"`
		Placeholder  string `hcl:"placeholder"`
	} `hcl:"server"`

	Client struct {
		Host string `hcl:"host"`
		Port int    `hcl:"port"`
	} `hcl:"client"`

	// "<delay>*<attempts>", last step without attempts repeats forever
	// e.g. ["10s*5", "60s*5", "600s"]
	// later source replaces whole schedule
	Reconnect struct {
		Schedule []string `hcl:"schedule"`
	} `hcl:"reconnect"`

	Log struct {
		Level string `hcl:"level"`
	} `hcl:"log"`

	Metrics struct {
		Listen    string `hcl:"listen"`
		Namespace string `hcl:"namespace"`
	} `hcl:"metrics"`

	Mqtt struct {
		Broker         string `hcl:"broker"`
		ClientID       string `hcl:"client_id"`
		Username       string `hcl:"username"`
		Password       string `hcl:"password"` // secret
		TopicPrefix    string `hcl:"topic_prefix"`
		KeepaliveSec   int    `hcl:"keepalive_sec"`
		NetworkTimeout int    `hcl:"network_timeout_sec"`
		LogDebug       bool   `hcl:"log_debug"`
	} `hcl:"mqtt"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// ParseReconnectStep accepts "<duration>" or "<duration>*<attempts>".
// Missing attempts means 0, forever.
func ParseReconnectStep(s string) (helpers.BackoffStep, error) {
	var step helpers.BackoffStep
	delay, attempts := strings.TrimSpace(s), ""
	if i := strings.IndexByte(delay, '*'); i >= 0 {
		delay, attempts = strings.TrimSpace(delay[:i]), strings.TrimSpace(delay[i+1:])
	}
	d, err := time.ParseDuration(delay)
	if err != nil || d < 0 {
		return step, errors.NotValidf("reconnect step=%q delay", s)
	}
	step.Delay = d
	if attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil || n < 1 {
			return step, errors.NotValidf("reconnect step=%q attempts", s)
		}
		step.Attempts = n
	}
	return step, nil
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	prevSchedule := c.Reconnect.Schedule
	c.Reconnect.Schedule = nil
	err = hcl.Unmarshal(bs, c)
	if c.Reconnect.Schedule == nil {
		c.Reconnect.Schedule = prevSchedule
	}
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Link.DataLen < 0 {
		errs = append(errs, errors.NotValidf("link.data_len=%d", c.Link.DataLen))
	}
	if c.Link.SocketTimeoutMs < 0 {
		errs = append(errs, errors.NotValidf("link.socket_timeout_ms=%d", c.Link.SocketTimeoutMs))
	}
	if c.Link.RecvTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("link.recv_timeout_sec=%d", c.Link.RecvTimeoutSec))
	}
	if c.Link.StatusIntervalSec < 0 {
		errs = append(errs, errors.NotValidf("link.status_interval_sec=%d", c.Link.StatusIntervalSec))
	}
	if c.Client.Port < 0 || c.Client.Port > 65535 {
		errs = append(errs, errors.NotValidf("client.port=%d", c.Client.Port))
	}
	for i, s := range c.Reconnect.Schedule {
		step, err := ParseReconnectStep(s)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "reconnect.schedule[%d]", i))
			continue
		}
		if step.Attempts == 0 && i != len(c.Reconnect.Schedule)-1 {
			errs = append(errs, errors.NotValidf("reconnect.schedule[%d]=%q forever before last", i, s))
		}
	}
	if _, err := log2.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

// LogLevel is validated log.level, info by default.
func (c *Config) LogLevel() log2.Level {
	l, _ := log2.ParseLevel(c.Log.Level)
	return l
}

func (c *Config) ReconnectSteps() []helpers.BackoffStep {
	if len(c.Reconnect.Schedule) == 0 {
		return helpers.DefaultBackoffSteps
	}
	steps := make([]helpers.BackoffStep, 0, len(c.Reconnect.Schedule))
	for _, s := range c.Reconnect.Schedule {
		// validated
		step, _ := ParseReconnectStep(s)
		steps = append(steps, step)
	}
	return steps
}

// LinkOptions converts link section, zero values mean package defaults.
func (c *Config) LinkOptions(log *log2.Log) msgsock.Options {
	return msgsock.Options{
		Log:            log,
		DataLen:        c.Link.DataLen,
		SocketTimeout:  helpers.IntMillisecondDefault(c.Link.SocketTimeoutMs, msgsock.DefaultSocketTimeout),
		RecvTimeout:    helpers.IntSecondDefault(c.Link.RecvTimeoutSec, 0),
		StatusInterval: helpers.IntSecondDefault(c.Link.StatusIntervalSec, msgsock.DefaultStatusInterval),
		Hostname:       c.Link.Hostname,
		Reconnect:      c.ReconnectSteps(),
	}
}

func (c *Config) ServerOptions(log *log2.Log) msgsock.ServerOptions {
	listen := c.Server.Listen
	if listen == "" {
		listen = msgsock.DefaultListen
	}
	placeholder := c.Server.Placeholder
	if placeholder == "" {
		placeholder = msgsock.DefaultPlaceholder
	}
	return msgsock.ServerOptions{
		Options:     c.LinkOptions(log),
		Listen:      listen,
		Keepalive:   helpers.IntSecondDefault(c.Server.KeepaliveSec, 0),
		Placeholder: placeholder,
	}
}

func (c *Config) ClientTarget() (string, int) {
	host, port := c.Client.Host, c.Client.Port
	if host == "" {
		host = DefaultClientHost
	}
	if port == 0 {
		port = DefaultClientPort
	}
	return host, port
}

func (c *Config) TopicPrefix() string {
	if c.Mqtt.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return c.Mqtt.TopicPrefix
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.New("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
