package logger

import (
	"io"
	"os"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger

func rotator(logFilePath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // MB
		MaxBackups: 0,  // only one file
		MaxAge:     0,  // ignore age
		Compress:   false,
	}
}

// Init logs to stdout and a rotating file. Used by serve/service mode.
func Init(logFilePath string) {
	writer := io.MultiWriter(os.Stdout, rotator(logFilePath))
	Log = slog.New(slog.NewJSONHandler(writer, nil))
	slog.SetDefault(Log)
}

// InitFileOnly logs to the rotating file alone. The interactive CLI uses
// this so log lines never interleave with the progress bar on stdout.
func InitFileOnly(logFilePath string) {
	Log = slog.New(slog.NewJSONHandler(rotator(logFilePath), nil))
	slog.SetDefault(Log)
}
