// Package ux implements the terminal-facing layer: a zap logger configured
// for CLI output, lipgloss-colored diagnostic rendering, and a redrawing
// status line for concurrent script progress.
package ux

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// IsTerminal reports whether fd is an interactive terminal, the same
// go-isatty check used to gate colored/redrawing output.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewLogger builds a zap logger for CLI output: a human-readable console
// encoder when stderr is a terminal, JSON otherwise (so piping wireit's
// output to a file or another tool yields structured lines).
func NewLogger(verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var config zap.Config
	if IsTerminal(os.Stderr) {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
