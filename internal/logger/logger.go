package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"watchover/internal/config"

	"github.com/rs/zerolog"
)

// Log files, one per level, served by the dashboard log endpoints.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to files and stdout.
type Logger struct {
	z      zerolog.Logger
	logDir string
	files  *levelFiles
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	files, err := openLevelFiles(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	var console io.Writer = os.Stdout
	if cfg.LogFormat != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(zerolog.MultiLevelWriter(console, files)).
		Level(parseLevel(cfg.LogLevel)).
		With().Timestamp().Logger()

	return &Logger{z: z, logDir: cfg.LogDirectory, files: files}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// New wraps an existing zerolog logger. Used by tests that capture output.
func New(z zerolog.Logger) *Logger {
	return &Logger{z: z}
}

// Named returns a child logger tagged with a component field.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		z:      l.z.With().Str("component", component).Logger(),
		logDir: l.logDir,
		files:  l.files,
	}
}

// Z exposes the structured logger for call sites that attach fields.
func (l *Logger) Z() *zerolog.Logger {
	return &l.z
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.z.Debug().Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.z.Info().Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.z.Warn().Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.z.Error().Msgf(format, v...)
}

// LogDir returns the directory holding the per-level files.
func (l *Logger) LogDir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.files == nil {
		return fmt.Errorf("logger has no log files")
	}
	if err := l.files.truncate(fileName); err != nil {
		l.Error("Error clearing %s: %v", fileName, err)
		return err
	}
	l.Info("File %s has been cleared.", fileName)
	return nil
}

// Close closes the log files. Child loggers share them, so close the root only.
func (l *Logger) Close() error {
	if l.files == nil {
		return nil
	}
	return l.files.close()
}

// levelFiles routes each entry to the file of its level in human-readable form.
type levelFiles struct {
	mu      sync.Mutex
	dir     string
	handles map[string]*os.File
	writers map[string]io.Writer
}

func openLevelFiles(dir string) (*levelFiles, error) {
	lf := &levelFiles{
		dir:     dir,
		handles: make(map[string]*os.File, 3),
		writers: make(map[string]io.Writer, 3),
	}
	for _, name := range []string{InfoFile, WarningFile, ErrorFile} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			lf.close()
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		lf.handles[name] = f
		lf.writers[name] = zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}
	}
	return lf, nil
}

// Write receives entries without a level; they belong with info.
func (lf *levelFiles) Write(p []byte) (int, error) {
	return lf.WriteLevel(zerolog.NoLevel, p)
}

func (lf *levelFiles) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	name := InfoFile
	switch {
	case level == zerolog.WarnLevel:
		name = WarningFile
	case level >= zerolog.ErrorLevel && level <= zerolog.PanicLevel:
		name = ErrorFile
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.writers[name].Write(p)
}

func (lf *levelFiles) truncate(name string) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	f, ok := lf.handles[name]
	if !ok {
		return fmt.Errorf("unknown log file %s", name)
	}
	return f.Truncate(0)
}

func (lf *levelFiles) close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	var firstErr error
	for _, f := range lf.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
