package errors

import (
	"fmt"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
)

// Notifier delivers one operator alert
type Notifier func(title, message string) error

// Reporter sends operator alerts at most once per cooldown window.
// Alerts raised inside the window are dropped and counted.
type Reporter struct {
	mu         sync.Mutex
	cooldown   time.Duration
	now        func() time.Time
	lastSent   time.Time
	hasSent    bool
	sent       int64
	suppressed int64
	notifiers  []Notifier
}

// NewReporter creates a Reporter. now may be nil to use the wall clock.
func NewReporter(cooldown time.Duration, now func() time.Time, notifiers ...Notifier) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		cooldown:  cooldown,
		now:       now,
		notifiers: notifiers,
	}
}

// AddNotifier registers another alert destination
func (r *Reporter) AddNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// Report sends the alert unless one was already sent inside the cooldown
// window. It returns true when the alert went out.
func (r *Reporter) Report(title, message string) bool {
	r.mu.Lock()
	now := r.now()
	if r.hasSent && now.Sub(r.lastSent) < r.cooldown {
		r.suppressed++
		r.mu.Unlock()
		logger.Debug(fmt.Sprintf("Alerta suprimida por cooldown: %s", title), "Alerts")
		return false
	}
	r.hasSent = true
	r.lastSent = now
	r.sent++
	notifiers := make([]Notifier, len(r.notifiers))
	copy(notifiers, r.notifiers)
	r.mu.Unlock()

	for _, notify := range notifiers {
		if err := notify(title, message); err != nil {
			logger.Error(fmt.Sprintf("No se pudo enviar la alerta '%s': %v", title, err), "Alerts")
		}
	}
	return true
}

// Counts returns how many alerts were sent and suppressed
func (r *Reporter) Counts() (sent, suppressed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent, r.suppressed
}
