package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Publisher is implemented by anything events can be handed to.
type Publisher interface {
	Dispatch(ctx context.Context, event *Event)
}

// Dispatcher routes events to registered senders.
type Dispatcher struct {
	senders []Sender
	mu      sync.RWMutex
	async   bool
	logger  *slog.Logger
}

// NewDispatcher creates a new notification dispatcher.
// If async is true, notifications are sent in goroutines.
func NewDispatcher(async bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		senders: make([]Sender, 0),
		async:   async,
		logger:  logger,
	}
}

// Register adds a sender to the dispatcher.
func (d *Dispatcher) Register(sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, sender)
}

// Dispatch sends an event to all registered senders.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) {
	if d == nil || event == nil {
		return
	}

	d.mu.RLock()
	senders := make([]Sender, len(d.senders))
	copy(senders, d.senders)
	d.mu.RUnlock()

	if len(senders) == 0 {
		return
	}

	// Delivery must not be tied to the lifetime of the caller's request
	ctx = context.WithoutCancel(ctx)

	if d.async {
		for _, sender := range senders {
			go d.sendWithRecover(ctx, sender, event)
		}
	} else {
		for _, sender := range senders {
			d.sendWithRecover(ctx, sender, event)
		}
	}
}

// sendWithRecover sends an event and recovers from panics.
func (d *Dispatcher) sendWithRecover(ctx context.Context, sender Sender, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notify: panic in sender",
				slog.String("sender", sender.Name()),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := sender.Send(sendCtx, event); err != nil {
		d.logger.Warn("notify: error sending",
			slog.String("sender", sender.Name()),
			slog.String("error", err.Error()),
		)
	}
}
