package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/observability"
	"github.com/lunovey/simshop/internal/models"
	"github.com/lunovey/simshop/internal/repository"
)

// Notifier receives message arrival callbacks from a watcher. Implementations
// must not block; a slow notifier delays the polling loop.
type Notifier interface {
	NotifyNewMessage(activation *models.Activation, message models.SMSMessage)
	NotifyCode(activation *models.Activation, code string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMessage(*models.Activation, models.SMSMessage) {}
func (NopNotifier) NotifyCode(*models.Activation, string)                  {}

// Watcher polls a single activation until it reaches a terminal status.
// Provider responses return messages newest first, so arrivals are detected
// by count growth and read from the head of the slice.
type Watcher struct {
	gateway        ProviderGateway
	activationRepo repository.ActivationRepository
	notifier       Notifier

	activationID int64
	pollInterval time.Duration
	forcedDelay  time.Duration

	inFlight atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu       sync.Mutex
	smsCount int
	last     *models.Activation
}

func NewWatcher(gateway ProviderGateway, activationRepo repository.ActivationRepository, notifier Notifier, activationID int64, pollInterval, forcedDelay time.Duration) *Watcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Watcher{
		gateway:        gateway,
		activationRepo: activationRepo,
		notifier:       notifier,
		activationID:   activationID,
		pollInterval:   pollInterval,
		forcedDelay:    forcedDelay,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins polling. The initial state carries the SMS already seen at
// purchase time so they are not re-announced.
func (w *Watcher) Start(initial *models.Activation) {
	if initial != nil {
		w.mu.Lock()
		w.smsCount = len(initial.SMS)
		w.last = initial
		w.mu.Unlock()
	}
	go w.run()
}

// Stop terminates the polling loop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once the loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

// Last returns the most recent state observed by this watcher.
func (w *Watcher) Last() *models.Activation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	if w.refresh("initial") {
		return
	}

	// A message can land within the first moments after purchase, well before
	// the first regular tick; one early forced refresh catches it.
	forced := time.NewTimer(w.forcedDelay)
	defer forced.Stop()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-forced.C:
			if w.refresh("forced") {
				return
			}
		case <-ticker.C:
			if w.refresh("interval") {
				return
			}
		}
	}
}

// refresh fetches state once and reports whether polling should stop. An
// already in-flight request makes the tick a no-op rather than queueing.
func (w *Watcher) refresh(kind string) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer w.inFlight.Store(false)

	observability.ActivationRefreshes.WithLabelValues(kind).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), w.pollInterval)
	defer cancel()

	activation, err := w.gateway.GetActivation(ctx, w.activationID)
	if err != nil {
		// Keep prior state; the next tick retries.
		slog.Warn("activation refresh failed", "activation_id", w.activationID, "kind", kind, "error", err)
		return false
	}

	w.mu.Lock()
	prevCount := w.smsCount
	w.smsCount = len(activation.SMS)
	if w.last != nil {
		activation.UserID = w.last.UserID
	}
	w.last = activation
	w.mu.Unlock()

	if len(activation.SMS) > prevCount {
		w.announce(activation, len(activation.SMS)-prevCount)
	}

	if err := w.activationRepo.Upsert(ctx, activation); err != nil {
		slog.Warn("failed to persist activation state", "activation_id", w.activationID, "error", err)
	}

	return activation.Status.Terminal()
}

func (w *Watcher) announce(activation *models.Activation, arrived int) {
	// Newest message sits at index 0.
	for i := arrived - 1; i >= 0; i-- {
		msg := activation.SMS[i]
		w.notifier.NotifyNewMessage(activation, msg)

		code := msg.Code
		if code == "" {
			code = ExtractVerificationCode(msg.Text)
		}
		if code != "" {
			w.notifier.NotifyCode(activation, code)
		}
	}
}

// Countdown reports the remaining lifetime of an activation and its elapsed
// progress in [0, 1].
func Countdown(activation *models.Activation, now time.Time) (remaining time.Duration, progress float64) {
	remaining = activation.Expires.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	total := activation.Expires.Sub(activation.CreatedAt)
	if total <= 0 {
		return remaining, 1
	}
	elapsed := now.Sub(activation.CreatedAt)
	progress = float64(elapsed) / float64(total)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return remaining, progress
}
