// Package logger provides a comprehensive logging system with multiple outputs.
// It supports console logging with colors, file logging, and Discord webhook logging.
package logger

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelCritical LogLevel = iota
	LevelError
	LevelWarn
	LevelSuccess
	LevelInfo
	LevelDebug
	LevelSystem
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelSuccess:
		return "SUCCESS"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// Color returns the ANSI color code for the log level
func (l LogLevel) Color() string {
	switch l {
	case LevelCritical:
		return "\033[1;31m" // Bold Red
	case LevelError:
		return "\033[31m" // Red
	case LevelWarn:
		return "\033[33m" // Yellow
	case LevelSuccess:
		return "\033[32m" // Green
	case LevelInfo:
		return "\033[36m" // Cyan
	case LevelDebug:
		return "\033[35m" // Magenta
	case LevelSystem:
		return "\033[34m" // Blue
	default:
		return "\033[0m" // Reset
	}
}

// DiscordColor returns the Discord embed color for the log level
func (l LogLevel) DiscordColor() int {
	switch l {
	case LevelCritical, LevelError:
		return 0xFF0000 // Red
	case LevelWarn:
		return 0xFFFF00 // Yellow
	case LevelSuccess:
		return 0x00FF00 // Green
	case LevelInfo:
		return 0x0000FF // Blue
	case LevelDebug:
		return 0x800080 // Purple
	case LevelSystem:
		return 0x808080 // Grey
	default:
		return 0xFFFFFF // White
	}
}

// logrusLevel maps our levels onto logrus severities. SUCCESS and SYSTEM
// travel as info entries and keep their own name in the "level" field.
func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelCritical, LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

const (
	colorReset      = "\033[0m"
	timestampFormat = "2006-01-02 15:04:05"

	fieldLevel  = "level_name"
	fieldPrefix = "prefix"
	fieldRank   = "rank"
)

// Logger is the main logging structure
type Logger struct {
	logrus          *logrus.Logger
	errorWebhookURL string
	logsWebhookURL  string
	logFile         *os.File
	errorFile       *os.File
	httpClient      *http.Client
}

// logger is the global logger instance
var (
	logger *Logger
	once   sync.Once
)

// Init initializes the global logger instance
func Init(errorWebhook, logsWebhook string) *Logger {
	once.Do(func() {
		logger = NewLogger(errorWebhook, logsWebhook)
	})
	return logger
}

// Get returns the global logger instance
func Get() *Logger {
	// Use sync.Once to ensure thread-safe initialization if Init wasn't called
	once.Do(func() {
		logger = NewLogger("", "")
	})
	return logger
}

// NewLogger creates a new Logger instance
func NewLogger(errorWebhook, logsWebhook string) *Logger {
	l := &Logger{
		logrus:          logrus.New(),
		errorWebhookURL: errorWebhook,
		logsWebhookURL:  logsWebhook,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
	}

	l.logrus.SetFormatter(&consoleFormatter{colors: true})
	l.logrus.SetOutput(os.Stdout)
	l.logrus.SetLevel(logrus.InfoLevel)

	// Create logs directory
	logsDir := filepath.Join(".", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Printf("Error creating logs directory: %v\n", err)
	}

	// Open log files
	var err error
	l.logFile, err = os.OpenFile(filepath.Join(logsDir, "combined.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Error opening combined log file: %v\n", err)
	}

	l.errorFile, err = os.OpenFile(filepath.Join(logsDir, "error.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Error opening error log file: %v\n", err)
	}

	l.logrus.AddHook(&fileHook{combined: l.logFile, errors: l.errorFile})
	if errorWebhook != "" || logsWebhook != "" {
		l.logrus.AddHook(&webhookHook{owner: l})
	}

	return l
}

// SetDebug toggles DEBUG output
func (l *Logger) SetDebug(enabled bool) {
	if enabled {
		l.logrus.SetLevel(logrus.DebugLevel)
		return
	}
	l.logrus.SetLevel(logrus.InfoLevel)
}

// log is the internal logging function
func (l *Logger) log(level LogLevel, message string, prefix string) {
	l.logrus.WithFields(logrus.Fields{
		fieldLevel:  level.String(),
		fieldPrefix: prefix,
		fieldRank:   level,
	}).Log(level.logrusLevel(), message)
}

// consoleFormatter renders entries as "[ts] [LEVEL] [prefix]: message"
type consoleFormatter struct {
	colors bool
}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level, _ := entry.Data[fieldRank].(LogLevel)
	name, _ := entry.Data[fieldLevel].(string)
	if name == "" {
		name = level.String()
	}
	prefix, _ := entry.Data[fieldPrefix].(string)

	var b bytes.Buffer
	ts := entry.Time.Format(timestampFormat)
	if f.colors {
		fmt.Fprintf(&b, "[%s] [%s%s%s] [%s]: %s\n", ts, level.Color(), name, colorReset, prefix, entry.Message)
	} else {
		fmt.Fprintf(&b, "[%s] [%s] [%s]: %s\n", ts, name, prefix, entry.Message)
	}
	return b.Bytes(), nil
}

// fileHook appends plain lines to combined.log, and errors to error.log too
type fileHook struct {
	mu       sync.Mutex
	combined *os.File
	errors   *os.File
	plain    consoleFormatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.plain.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.combined != nil {
		h.combined.Write(line)
	}
	if entry.Level <= logrus.ErrorLevel && h.errors != nil {
		h.errors.Write(line)
	}
	return nil
}

// webhookHook forwards entries to the Discord webhooks without blocking the caller
type webhookHook struct {
	owner *Logger
}

func (h *webhookHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *webhookHook) Fire(entry *logrus.Entry) error {
	level, _ := entry.Data[fieldRank].(LogLevel)
	prefix, _ := entry.Data[fieldPrefix].(string)
	go h.owner.sendToWebhook(level, entry.Message, prefix)
	return nil
}

// sendToWebhook sends the log message to the appropriate Discord webhook
func (l *Logger) sendToWebhook(level LogLevel, message, prefix string) {
	var webhookURL string

	if level <= LevelError && l.errorWebhookURL != "" {
		webhookURL = l.errorWebhookURL
	} else if l.logsWebhookURL != "" && level > LevelError {
		webhookURL = l.logsWebhookURL
	}

	if webhookURL == "" {
		return
	}

	embed := map[string]interface{}{
		"title":       fmt.Sprintf("[%s] %s", level.String(), prefix),
		"description": fmt.Sprintf("```%s```", message),
		"color":       level.DiscordColor(),
		"timestamp":   time.Now().Format(time.RFC3339),
		"footer": map[string]string{
			"text": "💫 Developed by PancyStudio | ClashBot Go",
		},
	}

	payload := map[string]interface{}{
		"embeds": []interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest("POST", webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
}

// Close closes the log files
func (l *Logger) Close() {
	if l.logFile != nil {
		l.logFile.Close()
	}
	if l.errorFile != nil {
		l.errorFile.Close()
	}
}

// Logging methods

// Critical logs a critical message
func (l *Logger) Critical(message string, prefix string) {
	l.log(LevelCritical, message, prefix)
}

// Error logs an error message
func (l *Logger) Error(message string, prefix string) {
	l.log(LevelError, message, prefix)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, prefix string) {
	l.log(LevelWarn, message, prefix)
}

// Success logs a success message
func (l *Logger) Success(message string, prefix string) {
	l.log(LevelSuccess, message, prefix)
}

// Info logs an info message
func (l *Logger) Info(message string, prefix string) {
	l.log(LevelInfo, message, prefix)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, prefix string) {
	l.log(LevelDebug, message, prefix)
}

// System logs a system message
func (l *Logger) System(message string, prefix string) {
	l.log(LevelSystem, message, prefix)
}

// Package-level functions for convenience

// Critical logs a critical message using the global logger
func Critical(message string, prefix string) {
	Get().Critical(message, prefix)
}

// Error logs an error message using the global logger
func Error(message string, prefix string) {
	Get().Error(message, prefix)
}

// Warn logs a warning message using the global logger
func Warn(message string, prefix string) {
	Get().Warn(message, prefix)
}

// Success logs a success message using the global logger
func Success(message string, prefix string) {
	Get().Success(message, prefix)
}

// Info logs an info message using the global logger
func Info(message string, prefix string) {
	Get().Info(message, prefix)
}

// Debug logs a debug message using the global logger
func Debug(message string, prefix string) {
	Get().Debug(message, prefix)
}

// System logs a system message using the global logger
func System(message string, prefix string) {
	Get().System(message, prefix)
}
