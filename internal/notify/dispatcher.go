package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"realty_tracker/internal/model"
)

// ErrRecipientBlocked is returned by a Channel when the recipient can no
// longer be reached, for example because they blocked the bot.
var ErrRecipientBlocked = errors.New("recipient blocked")

var blockedMarkers = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"forbidden",
}

// IsBlocked reports whether err means the recipient unsubscribed from the
// channel.
func IsBlocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range blockedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Channel delivers one text message to one target.
type Channel interface {
	Send(ctx context.Context, to model.Notifier, text string) error
}

// RequestDisabler turns off requests whose recipient is unreachable.
type RequestDisabler interface {
	SetRequestEnabled(ctx context.Context, id string, enabled bool) error
}

// Message is one queued notification.
type Message struct {
	RequestID string
	To        model.Notifier
	Text      string
}

// Stats counts delivery outcomes since the dispatcher was created.
type Stats struct {
	Delivered int64
	Failed    int64
	Blocked   int64
}

// DispatcherOptions tunes delivery.
type DispatcherOptions struct {
	// Interval is the minimum time between two sends.
	Interval time.Duration
	// SendTimeout bounds a single send. Zero means no timeout.
	SendTimeout time.Duration
	// MaxLength is the largest text the channel accepts. Longer messages
	// are split. Zero disables splitting.
	MaxLength int
}

// Dispatcher delivers queued messages one at a time in FIFO order.
type Dispatcher struct {
	channel  Channel
	disabler RequestDisabler
	opts     DispatcherOptions
	limiter  *rate.Limiter
	log      *slog.Logger

	mu      sync.Mutex
	queue   []Message
	pending int
	idle    chan struct{}
	wake    chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
	blocked   atomic.Int64
}

// NewDispatcher creates a Dispatcher. Call Run to start delivering.
func NewDispatcher(channel Channel, disabler RequestDisabler, opts DispatcherOptions, log *slog.Logger) *Dispatcher {
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		channel:  channel,
		disabler: disabler,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
		idle:     idle,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the queue and returns immediately.
func (d *Dispatcher) Enqueue(m Message) {
	d.mu.Lock()
	d.queue = append(d.queue, m)
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every message enqueued so far has been handled or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Blocked:   d.blocked.Load(),
	}
}

// Run delivers messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		m, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		d.deliver(ctx, m)
		d.done()
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *Dispatcher) next() (Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Message{}, false
	}
	m := d.queue[0]
	d.queue[0] = Message{}
	d.queue = d.queue[1:]
	return m, true
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	log := d.log.With("request_id", m.RequestID, "notifier", m.To.Kind)

	for _, chunk := range Split(m.Text, d.opts.MaxLength) {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		err := d.send(ctx, m.To, chunk)
		if err == nil {
			continue
		}

		d.failed.Add(1)
		if !IsBlocked(err) {
			log.Warn("deliver notification", "error", err)
			return
		}
		d.blocked.Add(1)
		log.Info("recipient unreachable, disabling request", "error", err)
		if d.disabler != nil && m.RequestID != "" {
			if err := d.disabler.SetRequestEnabled(ctx, m.RequestID, false); err != nil {
				log.Error("disable request", "error", err)
			}
		}
		return
	}
	d.delivered.Add(1)
}

// send returns once the channel answers or SendTimeout passes, whichever
// comes first. A send that outlives its deadline is abandoned.
func (d *Dispatcher) send(ctx context.Context, to model.Notifier, text string) error {
	if d.opts.SendTimeout <= 0 {
		return d.channel.Send(ctx, to, text)
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- d.channel.Send(ctx, to, text)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send to %s %s: %w", to.Kind, to.Address, ctx.Err())
	}
}
