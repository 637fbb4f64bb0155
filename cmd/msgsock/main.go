package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/msgsock/cmd/msgsock/client"
	"github.com/temoto/msgsock/cmd/msgsock/server"
	"github.com/temoto/msgsock/cmd/msgsock/subcmd"
	"github.com/temoto/msgsock/config"
	"github.com/temoto/msgsock/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	server.Mod,
	client.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "msgsock.hcl", "")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "Usage: %s [option...] command\n\nCommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(cmdline.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(cmdline.Output(), "\nOptions:\n")
		cmdline.PrintDefaults()
	}
	if err := cmdline.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	mod, err := subcmd.Parse(cmdline.Arg(0), modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify(log, "start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	fs, err := config.NewOsFullReader(".")
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	c := config.MustReadConfig(log, fs, *flagConfig)
	log.SetLevel(c.LogLevel())

	if err := mod.Main(context.Background(), c, log); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
