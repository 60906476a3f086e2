// Package logging builds the structured logger shared by zapgo services.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New returns a logger named zapgo writing to out at the given level.
// An unknown level falls back to info.
func New(level string, out io.Writer) hclog.Logger {
	if out == nil {
		out = os.Stderr
	}

	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "zapgo",
		Level:      lvl,
		Output:     out,
		TimeFormat: "2006-01-02T15:04:05.000Z0700",
	})
}
