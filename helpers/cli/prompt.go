package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop feeds exec with lines from interactive prompt or piped stdin.
// Returns on EOF. Termination signals call stop, then exit the process
// because prompt does not return from Run on its own.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest, stop func()) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		if _, ok := <-signalCh; ok {
			if stop != nil {
				stop()
			}
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return ScanLines(os.Stdin, exec)
}

// ScanLines calls exec for every non-empty trimmed line.
func ScanLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			exec(line)
		}
	}
	return scanner.Err()
}
