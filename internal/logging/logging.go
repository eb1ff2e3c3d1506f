// ABOUTME: Process-wide logging setup
// ABOUTME: Builds a zap logger over stdout and a log file and routes the std log package into it
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where log output goes
type Options struct {
	File    string // appended to when non-empty
	Console bool   // also write to stdout (off while the TUI owns the terminal)
	Debug   bool
}

// Setup builds the logger and redirects the standard library logger into it.
// The returned func restores the std logger and closes the log file.
func Setup(opts Options) (*zap.Logger, func(), error) {
	var writers []io.Writer
	var file *os.File

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if opts.Console {
		writers = append(writers, os.Stdout)
	}

	logger := New(opts.Debug, writers...)
	restore := zap.RedirectStdLog(logger)

	return logger, func() {
		restore()
		_ = logger.Sync()
		if file != nil {
			_ = file.Close()
		}
	}, nil
}

// New builds a console-encoded logger that tees to every writer. With no
// writers the logger discards everything.
func New(debug bool, writers ...io.Writer) *zap.Logger {
	if len(writers) == 0 {
		return zap.NewNop()
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	cores := make([]zapcore.Core, 0, len(writers))
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(w),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...))
}
