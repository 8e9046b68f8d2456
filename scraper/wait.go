package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"estate_harvester/models"
)

var ErrWaitTimeout = errors.New("timed out waiting for page readiness")

// WaitUntil polls ready every interval until it returns true, the timeout
// elapses, or ctx is done.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, ready func() bool) error {
	if ready() {
		return nil
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if ready() {
				return nil
			}
			return ErrWaitTimeout
		case <-ticker.C:
			if ready() {
				return nil
			}
		}
	}
}

// eventLog collects network events from browser callbacks, which arrive on
// driver goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []models.NetworkEvent
}

func (l *eventLog) add(ev models.NetworkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []models.NetworkEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.NetworkEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) any(match func(models.NetworkEvent) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if match(ev) {
			return true
		}
	}
	return false
}

// tableReady is the readiness predicate after the click: the consumption
// table response has arrived, or the page has asked for the estate menu.
// An outbound table request alone is not enough, since the whole-estate
// lookup reads the completed response.
func tableReady(ev models.NetworkEvent) bool {
	if ev.IsResponse() && ev.PathEndsWith("ConsumptionTable") {
		return true
	}
	return ev.IsRequest() && ev.PathEndsWith("ConsumptionTableEstateMenu")
}
