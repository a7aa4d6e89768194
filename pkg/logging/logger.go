package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes component-tagged lines to the process log file in ~/.loom/logs/.
// Messages below the global level are dropped.
type Logger struct {
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	processID     string
	processIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	minLevel atomic.Int32
)

func init() {
	minLevel.Store(int32(LevelInfo))
	if lvl := os.Getenv("LOOM_LOG_LEVEL"); lvl != "" {
		minLevel.Store(int32(ParseLevel(lvl)))
	}
}

// SetLevel changes the minimum level for every logger in the process.
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

func getProcessID() string {
	processIDOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		dir := os.Getenv("LOOM_LOG_DIR")
		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			dir = filepath.Join(homeDir, ".loom", "logs")
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		logDir = dir
	})
	return initErr
}

// NewLogger creates a logger for a component.
// The logger writes to <log dir>/<process-id>-loom.log.
//
// If the log file cannot be opened it returns a logger writing to stderr
// along with the error.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("%s-loom.log", getProcessID()))

	// Several components append to the same file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

// NewWriterLogger creates a logger that writes to w. Used by tests and the CLI.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(w, "", 0),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriterLogger("nop", io.Discard)
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		component: component,
		logger:    logger,
	}
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if level < Level(minLevel.Load()) {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	entry := fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(entry)
}

// Printf logs an info-level message.
func (l *Logger) Printf(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) { l.write(LevelWarn, format, v...) }

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// With returns a logger for a sub-component sharing the same output.
func (l *Logger) With(sub string) *Logger {
	return &Logger{
		component: l.component + "." + sub,
		file:      l.file,
		logger:    l.logger,
		logPath:   l.logPath,
	}
}

// LogPath returns the path to the log file, or "" when not file-backed.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// ProcessID returns the identifier shared by every log file of this process.
func ProcessID() string {
	return getProcessID()
}

// GetLogDirectory returns the directory where logs are stored.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
