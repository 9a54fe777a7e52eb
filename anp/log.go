package anp

import (
	"log/slog"
	"os"
)

// Logger 默认日志
var Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLogger 替换默认日志
func SetLogger(l *slog.Logger) {
	if l != nil {
		Logger = l
	}
}
