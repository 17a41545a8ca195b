// Package obslog owns the process-wide zap logger.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatLegacy  = "legacy"
	FormatConsole = "console"
	FormatJSON    = "json"
)

var globalLogger = zap.NewNop()

// L returns the global logger; a no-op logger until InitFromEnv succeeds.
func L() *zap.Logger { return globalLogger }

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	_ = globalLogger.Sync()
}

// Options selects sinks and encoding. An empty File disables file output.
type Options struct {
	Level   zapcore.Level
	Format  string
	Console bool
	File    string
	Caller  bool
	Color   bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE, LOG_CALLER and LOG_COLOR.
func OptionsFromEnv() Options {
	opts := Options{
		Level:   parseLevel(os.Getenv("LOG_LEVEL")),
		Format:  strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		Console: envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
		Color:   envBool("LOG_COLOR", false),
	}
	switch opts.Format {
	case FormatConsole, FormatJSON:
	default:
		opts.Format = FormatLegacy
	}
	if envBool("LOG_TO_FILE", true) {
		opts.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
		if opts.File == "" {
			opts.File = filepath.Join("logs", "go-bot.log")
		}
	}
	return opts
}

// InitFromEnv replaces the global logger with one built from LOG_* vars.
func InitFromEnv() error {
	logger, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// New builds a logger writing to stdout and/or a file. With no sink
// selected it falls back to stdout in development encoding.
func New(opts Options) (*zap.Logger, error) {
	enc := encoderConfig(opts.Format, opts.Color)
	var cores []zapcore.Core
	if opts.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(opts.Format, enc), zapcore.Lock(os.Stdout), opts.Level))
	}
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			return nil, err
		}
		// no color codes in files
		fenc := encoderConfig(opts.Format, false)
		cores = append(cores, zapcore.NewCore(newEncoder(opts.Format, fenc), zapcore.AddSync(f), opts.Level))
	}
	if len(cores) == 0 {
		dev := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(dev, zapcore.Lock(os.Stdout), opts.Level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Caller || opts.Format == FormatLegacy {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newEncoder(format string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	if format == FormatJSON {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func encoderConfig(format string, color bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	switch format {
	case FormatJSON:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return cfg
	case FormatLegacy:
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.ConsoleSeparator = " | "
	default:
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// parseLevel accepts zap level names plus "warning"; anything else is info.
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
