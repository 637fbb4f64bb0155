package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/msgsock/bridge"
	"github.com/temoto/msgsock/cmd/msgsock/subcmd"
	"github.com/temoto/msgsock/config"
	"github.com/temoto/msgsock/helpers"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

var Mod = subcmd.Mod{Name: "server", Usage: "accept links, relay to MQTT when configured", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	opt := c.ServerOptions(log)
	metrics, stopMetrics, err := subcmd.ServeMetrics(c, log)
	if err != nil {
		return err
	}
	defer stopMetrics()
	opt.Metrics = metrics
	opt.OnMessage = func(source, payload string) {
		log.Infof("%s: %s", source, payload)
	}

	if c.Mqtt.Broker != "" {
		b := bridge.New(bridge.Options{
			Log:            log,
			Broker:         c.Mqtt.Broker,
			ClientID:       c.Mqtt.ClientID,
			Username:       c.Mqtt.Username,
			Password:       c.Mqtt.Password,
			TopicPrefix:    c.TopicPrefix(),
			Keepalive:      helpers.IntSecondDefault(c.Mqtt.KeepaliveSec, 0),
			NetworkTimeout: helpers.IntSecondDefault(c.Mqtt.NetworkTimeout, 0),
			LogDebug:       c.Mqtt.LogDebug,
		})
		if err := b.Connect(); err != nil {
			return errors.Annotate(err, "bridge")
		}
		defer b.Close()
		b.Bind(&opt.Options)
		opt.Source = b.Source()
	}

	srv := msgsock.NewServer(opt)
	if err := srv.Start(); err != nil {
		return err
	}
	subcmd.SdNotify(log, daemon.SdNotifyReady)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigch)
	select {
	case sig := <-sigch:
		log.Infof("signal=%v stopping", sig)
	case <-ctx.Done():
	}
	subcmd.SdNotify(log, daemon.SdNotifyStopping)
	srv.Stop()
	return nil
}
