// Support sub-commands in msgsock application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/msgsock/config"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *config.Config, *log2.Log) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

// SdNotify returns true when running under systemd.
func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify: %v", err)
	}
	return ok
}

// ServeMetrics exposes link metrics on metrics.listen, nil Metrics when disabled.
// Returned stop func is always safe to call.
func ServeMetrics(c *config.Config, log *log2.Log) (*msgsock.Metrics, func(), error) {
	if c.Metrics.Listen == "" {
		return nil, func() {}, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := msgsock.NewMetrics(msgsock.MetricsConfig{
		Namespace: c.Metrics.Namespace,
		Registry:  registry,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	ln, err := net.Listen("tcp", c.Metrics.Listen)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "metrics listen=%s", c.Metrics.Listen)
	}
	hs := &http.Server{Handler: mux}
	go func() {
		if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics serve err=%v", err)
		}
	}()
	log.Infof("metrics listen=%s", ln.Addr())
	stop := func() {
		if err := hs.Close(); err != nil {
			log.Errorf("metrics close err=%v", err)
		}
	}
	return metrics, stop, nil
}
