package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LoggerContextKey ContextKey = "request.logger"

	megabyte = 1 << 20
)

// LogFileWriter is a size rotated, concurrent safe log file writer used
// as zap WriteSyncer. Every file is named after the registry backend and
// the environment so logs of several registry instances can share a folder.
type LogFileWriter struct {
	mu       sync.Mutex
	clock    Clocker
	file     *os.File
	folder   string
	prefix   string
	maxBytes int64
	size     int64
}

func NewLogFileWriter(config *Config, clock Clocker) *LogFileWriter {
	return &LogFileWriter{
		clock:    clock,
		folder:   config.LogFolder,
		prefix:   LogFilePrefix(config),
		maxBytes: int64(config.LogMaxSize) * megabyte,
	}
}

// LogFilePrefix identifies the registry instance writing the logs.
func LogFilePrefix(config *Config) string {
	env := "dev"
	if config.IsProduction {
		env = "prod"
	}
	return fmt.Sprintf("registry.%s.%s", config.Registry.Backend, env)
}

// LogFilePath returns the path of a log file opened at t.
func LogFilePath(folder, prefix string, t time.Time) string {
	return filepath.Join(folder, fmt.Sprintf("%s.%s.log", prefix, t.Format("20060102.150405")))
}

// Close closes the current log file.
func (lw *LogFileWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.file == nil {
		return nil
	}
	err := lw.file.Close()
	lw.file = nil
	return err
}

func (lw *LogFileWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.file == nil {
		return nil
	}
	return lw.file.Sync()
}

// Write opens a new file when p would push the current one over the max size.
func (lw *LogFileWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if int64(len(p)) > lw.maxBytes {
		return 0, fmt.Errorf("logging: entry of %d bytes exceeds max file size of %d bytes", len(p), lw.maxBytes)
	}
	if lw.file == nil || lw.size+int64(len(p)) > lw.maxBytes {
		if err := lw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := lw.file.Write(p)
	lw.size += int64(n)
	return n, err
}

func (lw *LogFileWriter) rotate() error {
	if lw.file != nil {
		if err := lw.file.Close(); err != nil {
			return err
		}
		lw.file = nil
	}
	path := LogFilePath(lw.folder, lw.prefix, lw.clock.Now())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	lw.file = file
	lw.size = info.Size()
	return nil
}

// stdoutSyncer skips Sync on stdout, which fails on some terminals.
type stdoutSyncer struct{}

func (stdoutSyncer) Sync() error { return nil }

func (stdoutSyncer) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func logEncoderConfig(isProd bool) zapcore.EncoderConfig {
	ec := zap.NewDevelopmentEncoderConfig()
	if isProd {
		ec = zap.NewProductionEncoderConfig()
	}
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.LevelKey = "lvl"
	ec.NameKey = "name"
	ec.MessageKey = "msg"
	ec.CallerKey = "caller"
	ec.StacktraceKey = "skt"
	return ec
}

// SetupLogging builds the registry logger. Production logs only go to w as
// JSON, development logs are teed to stdout. Every entry carries the build
// info and the registry backend and default account it serves.
func SetupLogging(config *Config, w zapcore.WriteSyncer, clock TickerClocker) (*zap.Logger, func() error) {
	ec := logEncoderConfig(config.IsProduction)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(ec), w, config.LogLevel)
	if !config.IsProduction {
		core = zapcore.NewTee(core,
			zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(stdoutSyncer{}), config.LogLevel))
	}
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel), zap.WithClock(clock)).
		Named("registry").
		With(
			zap.String("app.commit", config.GitCommit),
			zap.String("app.tag", config.GitTag),
			zap.String("app.built", config.BuildTime),
			zap.String("registry.backend", config.Registry.Backend),
			zap.String("registry.default_account", config.Registry.DefaultAccount),
		)

	flusher := func() error {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("[flush logs]: %w", err)
		}
		return nil
	}
	return logger, flusher
}

// requestLogger returns a child of the api logger tagged with the request id
// and the registry account active when the request came in.
func (api *APIHandler) requestLogger(r *http.Request) *zap.Logger {
	fields := []zap.Field{zap.String("request.id", GetValueFromContext(r.Context(), ContextRequestID))}
	if api.registry != nil {
		fields = append(fields, zap.String("account", api.registry.Account()))
	}
	return api.logger.With(fields...)
}

// GetLoggerFromContext returns the request logger set by CoreMiddleware or
// the api logger when there is none.
func (api *APIHandler) GetLoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*zap.Logger); ok {
		return logger
	}
	return api.logger
}
