// Package logging builds the loggers handed to every component. There is no
// package-level logger; commands construct one and inject it.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the run logger: a console core plus, when logFile is non-empty,
// a file core writing the same lines into the run directory. The returned
// cleanup syncs the logger and closes the file.
func New(logFile string) (*zap.Logger, func(), error) {
	cores := []zapcore.Core{consoleCore()}
	closeFile := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		enc := zapcore.NewConsoleEncoder(encoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), zapcore.InfoLevel))
		closeFile = func() { _ = f.Close() }
	}

	log := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = log.Sync()
		closeFile()
	}
	return log, cleanup, nil
}

// NewConsole returns a console-only logger for commands that run before a
// run directory exists (preflight, history, serve).
func NewConsole() *zap.Logger {
	return zap.New(consoleCore())
}

func consoleCore() zapcore.Core {
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	return zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zapcore.InfoLevel)
}

// encoderConfig produces "[2006-01-02 15:04:05] message" lines, the same
// shape the run.log artifact has always had. No level tag; warning
// messages carry their own WARNING: prefix.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:    "msg",
		LevelKey:      zapcore.OmitKey,
		TimeKey:       "ts",
		NameKey:       zapcore.OmitKey,
		CallerKey:     zapcore.OmitKey,
		FunctionKey:   zapcore.OmitKey,
		StacktraceKey: zapcore.OmitKey,
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("[2006-01-02 15:04:05]"))
		},
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}
