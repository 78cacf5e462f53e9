// Package errors provides error handling and recovery mechanisms for the bot.
// It counts recovered panics, shuts the bot down on a panic storm and
// delivers operator alerts through the webhook and the throttled Reporter.
package errors

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/goccy/go-json"
)

// ErrorHandler manages panic counting and webhook reporting
type ErrorHandler struct {
	panicCount    atomic.Int32
	webhookURL    string
	stopChan      chan struct{}
	stopOnce      sync.Once
	shutdownFunc  func()
	maxPanics     int32
	resetInterval time.Duration
	httpClient    *http.Client
}

// ReportErrorOptions contains options for reporting an error
type ReportErrorOptions struct {
	Error   string
	Message string
}

var (
	handler *ErrorHandler
	once    sync.Once
)

// Init initializes the global error handler
func Init(webhookURL string, shutdownFunc func()) *ErrorHandler {
	once.Do(func() {
		handler = NewErrorHandler(webhookURL, shutdownFunc)
		handler.start()
	})
	return handler
}

// Get returns the global error handler instance
func Get() *ErrorHandler {
	return handler
}

// NewErrorHandler creates a new ErrorHandler instance. The panic watchdog
// only runs for the handler installed through Init.
func NewErrorHandler(webhookURL string, shutdownFunc func()) *ErrorHandler {
	return &ErrorHandler{
		webhookURL:    webhookURL,
		stopChan:      make(chan struct{}),
		shutdownFunc:  shutdownFunc,
		maxPanics:     15,
		resetInterval: 5 * time.Second,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// start watches the panic counter once per second and resets it every resetInterval
func (h *ErrorHandler) start() {
	go func() {
		check := time.NewTicker(time.Second)
		reset := time.NewTicker(h.resetInterval)
		defer check.Stop()
		defer reset.Stop()

		for {
			select {
			case <-reset.C:
				h.panicCount.Store(0)
			case <-check.C:
				if h.panicCount.Load() > h.maxPanics {
					h.shutdown()
				}
			case <-h.stopChan:
				return
			}
		}
	}()
}

func (h *ErrorHandler) shutdown() {
	start := time.Now()
	logger.Warn("Se detectó un número demasiado alto de panics", "CRITICAL")
	logger.Warn("Apagando...", "CRITICAL")

	h.Report(ReportErrorOptions{
		Error:   "Critical Error",
		Message: "Número inusual de panics. Apagando...",
	})

	if h.shutdownFunc != nil {
		h.shutdownFunc()
	}

	logger.Warn(fmt.Sprintf("Finalizando proceso... Tiempo total: %v", time.Since(start)), "CRITICAL")
	os.Exit(1)
}

// Stop stops the watchdog goroutine
func (h *ErrorHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// PanicCount returns the panics counted in the current window
func (h *ErrorHandler) PanicCount() int32 {
	return h.panicCount.Load()
}

// HandlePanic handles a recovered panic
func (h *ErrorHandler) HandlePanic(recovered interface{}) {
	count := h.panicCount.Add(1)
	logger.Error(fmt.Sprintf("Panic recuperado (%d en la ventana actual): %v", count, recovered), "AntiCrash")
	logger.Debug(string(debug.Stack()), "AntiCrash")
}

// Report sends an error report to the Discord webhook
func (h *ErrorHandler) Report(data ReportErrorOptions) error {
	if h.webhookURL == "" {
		return nil
	}

	embed := map[string]interface{}{
		"author": map[string]string{
			"name": fmt.Sprintf("Error %s", data.Error),
		},
		"description": data.Message,
		"color":       0xFF0000, // Red
		"footer": map[string]string{
			"text": "ClashBot Go",
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	payload := map[string]interface{}{
		"embeds": []interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal error report: %w", err)
	}

	req, err := http.NewRequest("POST", h.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send error report: %w", err)
	}
	defer resp.Body.Close()

	logger.Warn(fmt.Sprintf("ErrorReport enviado al webhook, status: %d", resp.StatusCode), "AntiCrash")
	return nil
}

// WebhookNotifier adapts Report to the Reporter's Notifier signature
func (h *ErrorHandler) WebhookNotifier() Notifier {
	return func(title, message string) error {
		return h.Report(ReportErrorOptions{Error: title, Message: message})
	}
}

// RecoverMiddleware returns a recovery function for use in deferred calls
func RecoverMiddleware() func() {
	return func() {
		if r := recover(); r != nil {
			HandleRecovered(r)
		}
	}
}

// HandleRecovered routes a value obtained from recover() to the global handler
func HandleRecovered(r interface{}) {
	if handler != nil {
		handler.HandlePanic(r)
		return
	}
	logger.Error(fmt.Sprintf("Panic recuperado (sin handler): %v", r), "AntiCrash")
}
