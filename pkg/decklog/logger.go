package decklog

import (
	"context"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
)

var outLogger *logger

// Logger wraps a writer and provides helper functions for user-facing CLI
// output. Diagnostic logging goes through logrus instead; this is only for
// text a person is meant to read, so the daemon never uses it.
func Logger(ctx context.Context) *logger {
	if outLogger == nil {
		s := spinner.New(spinner.CharSets[26], 250*time.Millisecond)
		outLogger = &logger{os.Stdout, s, isatty.IsTerminal(os.Stdout.Fd())}
	}
	return outLogger
}
