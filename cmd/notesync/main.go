package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := newCLIApp(log, os.Stdout)
	err := app.RunContext(ctx, os.Args)
	stop()

	if err != nil {
		code := 1
		var exitErr cli.ExitCoder
		if stderrors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(code)
	}
}
