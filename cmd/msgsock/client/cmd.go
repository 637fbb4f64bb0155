package client

import (
	"context"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/coreos/go-systemd/daemon"
	"github.com/temoto/msgsock/cmd/msgsock/subcmd"
	"github.com/temoto/msgsock/config"
	"github.com/temoto/msgsock/helpers/cli"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

const modName = "client"

const usage = `syntax: text line is sent to server as one frame
(meta)
- /stat    show link counters
- /help    this text
`

var Mod = subcmd.Mod{Name: modName, Usage: "connect to server, send stdin lines", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	host, port := c.ClientTarget()
	opt := c.LinkOptions(log)
	metrics, stopMetrics, err := subcmd.ServeMetrics(c, log)
	if err != nil {
		return err
	}
	defer stopMetrics()
	opt.Metrics = metrics
	opt.OnMessage = func(source, payload string) {
		log.Infof("%s: %s", source, payload)
	}

	s := msgsock.NewClient(host, port, opt)
	s.Start()
	defer s.Stop()
	subcmd.SdNotify(log, daemon.SdNotifyReady)

	exec := newExecutor(s, log, opt.SocketTimeout)
	err = cli.MainLoop("msgsock-"+modName, exec, newCompleter(), s.Stop)
	subcmd.SdNotify(log, daemon.SdNotifyStopping)
	return err
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "/stat", Description: "show link counters"},
		{Text: "/help", Description: "show usage"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		word := d.GetWordBeforeCursor()
		if !strings.HasPrefix(word, "/") {
			return nil
		}
		return prompt.FilterHasPrefix(suggests, word, true)
	}
}

func newExecutor(s *msgsock.Supervisor, log *log2.Log, wait time.Duration) func(string) {
	return func(line string) {
		line = strings.TrimSpace(line)
		switch line {
		case "":
			return
		case "/help":
			log.Infof(usage)
			return
		case "/stat":
			conn := s.Conn()
			if conn == nil {
				log.Infof("%s not connected failures=%d", s.Name(), s.Failures())
				return
			}
			lc := conn.Stat().Snapshot()
			log.Infof("%s recv=%d sent=%d errors=%d bytes recv=%d sent=%d",
				conn.Name(), lc.Recv, lc.Sent, lc.Errors(),
				conn.Stat().RecvBytes.Value(), conn.Stat().SendBytes.Value())
			return
		}

		// piped input may arrive before first connect
		if !waitConnected(s, wait) {
			log.Errorf("%s not connected, dropped line=%q", s.Name(), line)
			return
		}
		if _, err := s.SendText(line); err != nil {
			log.Errorf("send err=%v", err)
		}
	}
}

func waitConnected(s *msgsock.Supervisor, limit time.Duration) bool {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !s.Connected() {
		select {
		case <-deadline.C:
			return false
		case <-s.Done():
			return false
		case <-tick.C:
		}
	}
	return true
}
