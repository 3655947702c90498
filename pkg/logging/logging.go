// pkg/logging/logging.go - timestamped run logging for vmprovision
//
// Every run gets its own directory under the base log directory
// (YYYY-MM-DD-HHMMss) holding a human readable provision.log and an
// events.jsonl stream of structured entries. Older run directories are
// pruned according to the retention policy when the logger starts.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/windowsadmins/vmprovision/pkg/version"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configured level name to a LogLevel, defaulting to INFO.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry is one structured line of events.jsonl.
type LogEntry struct {
	Time       int64                  `json:"time"`
	Timestamp  string                 `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	PID        int64                  `json:"pid"`
	Hostname   string                 `json:"hostname"`
	Version    string                 `json:"version"`
	SessionID  string                 `json:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// RetentionPolicy defines log retention rules
type RetentionPolicy struct {
	MaxRuns    int // Keep at most this many run directories
	MaxAgeDays int // Delete run directories older than this
}

// LoggerConfig holds configuration for the run logger
type LoggerConfig struct {
	BaseDir       string
	Component     string
	SessionID     string
	Level         LogLevel
	Retention     RetentionPolicy
	EnableJSON    bool
	EnableConsole bool
	Console       io.Writer // defaults to os.Stdout
}

// Logger writes log lines to the run directory and optionally the console.
type Logger struct {
	mu       sync.RWMutex
	logger   *log.Logger
	logLevel LogLevel
	logFile  *os.File
	jsonFile *os.File
	config   LoggerConfig
	logDir   string
	hostname string
	version  string
}

var (
	instance *Logger
	once     sync.Once
)

// DefaultRetentionPolicy returns sensible defaults for log retention
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxRuns:    20,
		MaxAgeDays: 60,
	}
}

// Init initializes the singleton Logger. It must be called before any
// package-level logging function writes to disk.
func Init(cfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLoggerWithConfig(cfg)
	})
	return initErr
}

func generateSessionID(start time.Time) string {
	return fmt.Sprintf("vmprovision-%d", start.Unix())
}

// newLoggerWithConfig creates a Logger writing into a fresh timestamped directory.
func newLoggerWithConfig(cfg LoggerConfig) (*Logger, error) {
	sessionStart := time.Now()
	if cfg.SessionID == "" {
		cfg.SessionID = generateSessionID(sessionStart)
	}
	if cfg.Component == "" {
		cfg.Component = "vmprovision"
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}

	logDir := filepath.Join(cfg.BaseDir, sessionStart.Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		config:   cfg,
		logLevel: cfg.Level,
		logDir:   logDir,
		hostname: hostname,
		version:  version.Version().Version,
	}

	var err error
	l.logFile, err = os.OpenFile(filepath.Join(logDir, "provision.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log file: %w", err)
	}
	if cfg.EnableJSON {
		l.jsonFile, err = os.OpenFile(filepath.Join(logDir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			l.logFile.Close()
			return nil, fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}

	if cfg.EnableConsole {
		l.logger = log.New(io.MultiWriter(cfg.Console, l.logFile), "", 0)
	} else {
		l.logger = log.New(l.logFile, "", 0)
	}

	l.performCleanup(sessionStart)
	return l, nil
}

// performCleanup removes run directories beyond the retention policy.
// The current run directory is always kept.
func (l *Logger) performCleanup(now time.Time) {
	entries, err := os.ReadDir(l.config.BaseDir)
	if err != nil {
		return
	}

	var runDirs []string
	for _, entry := range entries {
		// YYYY-MM-DD-HHMMss
		if entry.IsDir() && len(entry.Name()) == 17 && strings.Count(entry.Name(), "-") == 3 {
			runDirs = append(runDirs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runDirs)))

	current := filepath.Base(l.logDir)
	maxAge := time.Duration(l.config.Retention.MaxAgeDays) * 24 * time.Hour
	for i, name := range runDirs {
		if name == current {
			continue
		}
		expired := false
		if l.config.Retention.MaxRuns > 0 && i >= l.config.Retention.MaxRuns {
			expired = true
		}
		if ts, err := time.ParseInLocation("2006-01-02-150405", name, time.Local); err == nil && maxAge > 0 && now.Sub(ts) > maxAge {
			expired = true
		}
		if expired {
			os.RemoveAll(filepath.Join(l.config.BaseDir, name)) // best effort
		}
	}
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.close()
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
	if l.jsonFile != nil {
		l.jsonFile.Close()
		l.jsonFile = nil
	}
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.logLevel || l.logger == nil {
		return
	}

	properties := make(map[string]interface{})
	for i := 0; i+1 < len(keyValues); i += 2 {
		properties[fmt.Sprintf("%v", keyValues[i])] = keyValues[i+1]
	}

	now := time.Now()
	entry := LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		Component:  l.config.Component,
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		Version:    l.version,
		SessionID:  l.config.SessionID,
		Properties: properties,
	}

	l.writeMainLog(entry, keyValues)
	if l.jsonFile != nil {
		if data, err := json.Marshal(entry); err == nil {
			l.jsonFile.Write(append(data, '\n'))
		}
	}
	if l.logFile != nil {
		l.logFile.Sync()
	}
}

// writeMainLog writes the human readable line.
func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %-5s %s", ts, entry.Level, entry.Message)

	pairs := len(keyValues) / 2
	for i := 0; i+1 < len(keyValues); i += 2 {
		if pairs > 4 {
			line += fmt.Sprintf("\n        %v: %v", keyValues[i], keyValues[i+1])
		} else {
			line += fmt.Sprintf(" %v=%v", keyValues[i], keyValues[i+1])
		}
	}

	if entry.Level == "ERROR" {
		line = "\n----------------------------------------\n" + line
	}
	l.logger.Println(line)
}

// GetCurrentLogDir returns the current timestamped log directory
func GetCurrentLogDir() string {
	if instance == nil {
		return ""
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.logDir
}

// LogStructured logs a message with an explicit property map.
func LogStructured(level LogLevel, message string, properties map[string]interface{}) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keyValues := make([]interface{}, 0, len(properties)*2)
	for _, k := range keys {
		keyValues = append(keyValues, k, properties[k])
	}
	logAt(level, message, keyValues...)
}

func logAt(level LogLevel, message string, keyValues ...interface{}) {
	if instance == nil {
		// Debug noise is dropped until Init has run.
		if level < LevelDebug {
			fmt.Fprintf(os.Stderr, "LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, keyValues)
		}
		return
	}
	instance.logMessage(level, message, keyValues...)
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	logAt(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	logAt(LevelDebug, message, keyValues...)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	logAt(LevelWarn, message, keyValues...)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	logAt(LevelError, message, keyValues...)
}
