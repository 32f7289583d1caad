package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fans an alert out to every configured notifier. Delivery
// never blocks the caller and failures are only logged and counted.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	wg        sync.WaitGroup

	// OnResult, if set, is called once per channel delivery.
	OnResult func(channel string, err error)
}

// NewDispatcher creates a dispatcher. timeout bounds each channel send;
// 0 means 10s.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout}
}

// Channels returns the names of the configured notifiers.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Dispatch sends alert to every channel in the background.
func (d *Dispatcher) Dispatch(alert Alert) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			d.deliver(context.Background(), n, alert)
		}(n)
	}
}

// SendAll delivers alert to every channel and waits, returning the
// per-channel error (nil on success).
func (d *Dispatcher) SendAll(ctx context.Context, alert Alert) map[string]error {
	var mu sync.Mutex
	out := make(map[string]error, len(d.notifiers))
	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			err := d.deliver(ctx, n, alert)
			mu.Lock()
			out[n.Name()] = err
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	return out
}

// Wait blocks until every background delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, alert Alert) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := n.Send(ctx, alert)
	if err != nil {
		slog.Warn("notification failed", "channel", n.Name(), "title", alert.Title, "error", err)
	}
	if d.OnResult != nil {
		d.OnResult(n.Name(), err)
	}
	return err
}
