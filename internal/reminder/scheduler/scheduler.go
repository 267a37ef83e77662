package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindo/internal/eventbus"
	"remindo/internal/reminder"
	kit "remindo/internal/transport"
	logx "remindo/pkg/logx"
)

// Store is the persistence slice the scheduler needs.
type Store interface {
	ReminderByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	ActiveReminders(ctx context.Context) ([]*reminder.Reminder, error)
	ActiveRemindersByUser(ctx context.Context, userID int64) ([]*reminder.Reminder, error)
	UpdateReminderNextFire(ctx context.Context, id int64, at time.Time) error
	UpdateReminderStatus(ctx context.Context, id int64, st reminder.Status, lastErr string) error
}

// Sender delivers a reminder message. Errors are expected to be classified
// already; transport.IsPermanent separates "target gone" from retryable.
type Sender interface {
	Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Zones resolves the effective timezone for a reminder's owner.
type Zones interface {
	Resolve(ctx context.Context, userID, chatID int64) (*time.Location, string)
}

type Config struct {
	// RetryMax is the number of delivery attempts per fire.
	RetryMax int
	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff and spaces re-attempt cycles for
	// one-time reminders whose delivery keeps failing transiently.
	RetryMaxDelay time.Duration
}

// errSuperseded means a cancel or reschedule bumped the generation while a
// fire was retrying. The stale fire must simply stop.
var errSuperseded = errors.New("fire superseded")

func (c *Config) normalize() {
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
}

// entry is the in-memory arming state for one reminder. gen is bumped on
// every re-arm or cancel; a fire whose generation no longer matches is
// stale and must do nothing. That is the whole concurrency story: the
// store is the truth, entries only say "a timer exists for generation N".
type entry struct {
	gen   uint64
	timer *time.Timer
	at    time.Time
}

// Core owns every reminder timer in the process. It is the single
// scheduling authority: nothing else computes fire times or talks to the
// delivery path for reminders.
type Core struct {
	store Store
	send  Sender
	zones Zones
	bus   eventbus.Bus
	log   logx.Logger
	cfg   Config

	// now and after are injectable for tests.
	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	entries map[int64]*entry
	closed  bool
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store Store, send Sender, zones Zones, bus eventbus.Bus, cfg Config, log logx.Logger) *Core {
	cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	// baseCtx exists from construction so a fire from a Schedule() call that
	// races Start() never sees a nil context.
	ctx, cancel := context.WithCancel(context.Background())
	return &Core{
		store:   store,
		send:    send,
		zones:   zones,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		after:   time.AfterFunc,
		entries: map[int64]*entry{},
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start arms timers for every active reminder in the store. Reminders whose
// next fire is already in the past fire immediately (at-least-once across
// restarts).
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	active, err := c.store.ActiveReminders(ctx)
	if err != nil {
		return fmt.Errorf("load active reminders: %w", err)
	}
	now := c.now()
	missed := 0
	for _, r := range active {
		at := r.NextFireUTC
		if at.IsZero() {
			// A row without a computed fire time should not exist; recompute
			// instead of dropping it.
			loc, _ := c.zones.Resolve(ctx, r.UserID, r.ChatID)
			next, ok, err := r.Rule().Next(now, loc)
			if err != nil || !ok {
				c.log.Warn("reminder has no computable fire time, skipping",
					logx.Int64("id", r.ID), logx.Err(err))
				continue
			}
			at = next
			if err := c.store.UpdateReminderNextFire(ctx, r.ID, at); err != nil {
				c.log.Warn("persist recomputed fire time", logx.Int64("id", r.ID), logx.Err(err))
			}
		}
		if at.Before(now) {
			missed++
			c.bus.Publish(eventbus.Event{
				Type: eventbus.TypeReminderMissed,
				Data: eventbus.ReminderEvent{ReminderID: r.ID, ChatID: r.ChatID, TopicID: r.TopicID, At: at},
			})
		}
		c.arm(r.ID, at)
	}
	c.log.Info("scheduler started",
		logx.Int("reminders", len(active)), logx.Int("missed", missed))
	return nil
}

// Stop disarms every timer and waits for in-flight fires to finish or ctx
// to expire.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, e := range c.entries {
		e.gen++
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.entries = map[int64]*entry{}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule computes and persists the next fire time for a reminder and arms
// its timer. It is called after creation and after edits. The computed
// instant is returned for display.
func (c *Core) Schedule(ctx context.Context, id int64) (time.Time, error) {
	r, err := c.store.ReminderByID(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if r.Status != reminder.StatusActive {
		return time.Time{}, fmt.Errorf("reminder %d is %s", id, r.Status)
	}
	loc, _ := c.zones.Resolve(ctx, r.UserID, r.ChatID)
	next, ok, err := r.Rule().Next(c.now(), loc)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("reminder %d produces no fire time", id)
	}
	if err := c.store.UpdateReminderNextFire(ctx, id, next); err != nil {
		return time.Time{}, err
	}
	c.arm(id, next)
	return next, nil
}

// Cancel marks the reminder cancelled and disarms its timer. Cancelling an
// already terminal or unknown reminder is a no-op.
func (c *Core) Cancel(ctx context.Context, id int64) error {
	c.disarm(id)
	r, err := c.store.ReminderByID(ctx, id)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}
	return c.store.UpdateReminderStatus(ctx, id, reminder.StatusCancelled, "")
}

// RescheduleOwner recomputes fire times for every active reminder of a
// user. Called when the user changes their timezone offset.
func (c *Core) RescheduleOwner(ctx context.Context, userID int64) error {
	rs, err := c.store.ActiveRemindersByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := c.Schedule(ctx, r.ID); err != nil {
			c.log.Warn("reschedule after timezone change",
				logx.Int64("id", r.ID), logx.Int64("user_id", userID), logx.Err(err))
		}
	}
	return nil
}

// RescheduleAll recomputes fire times for every active reminder. Used after
// chat-level timezone changes, which can affect any user without a personal
// preference.
func (c *Core) RescheduleAll(ctx context.Context) error {
	rs, err := c.store.ActiveReminders(ctx)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := c.Schedule(ctx, r.ID); err != nil {
			c.log.Warn("reschedule reminder", logx.Int64("id", r.ID), logx.Err(err))
		}
	}
	return nil
}

func (c *Core) arm(id int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := c.entries[id]
	if e == nil {
		e = &entry{}
		c.entries[id] = e
	}
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.at = at
	d := at.Sub(c.now())
	if d < 0 {
		d = 0
	}
	e.timer = c.after(d, func() { c.fire(id, gen) })
}

// armIfCurrent re-arms only when no Cancel/Schedule happened mid-flight.
func (c *Core) armIfCurrent(id int64, gen uint64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := c.entries[id]
	if e == nil || e.gen != gen {
		return
	}
	e.gen++
	next := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.at = at
	d := at.Sub(c.now())
	if d < 0 {
		d = 0
	}
	e.timer = c.after(d, func() { c.fire(id, next) })
}

func (c *Core) disarm(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		return
	}
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.entries, id)
}

// current reports whether gen is still the live generation for id.
func (c *Core) current(id int64, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	return !c.closed && e != nil && e.gen == gen
}

// fire runs in the timer's goroutine. Delivery happens outside the registry
// lock; the generation check makes stale fires (cancelled or rescheduled
// mid-flight) harmless.
func (c *Core) fire(id int64, gen uint64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entries[id]
	if e == nil || e.gen != gen {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	ctx := c.baseCtx
	c.mu.Unlock()
	defer c.wg.Done()

	r, err := c.store.ReminderByID(ctx, id)
	if err != nil {
		c.log.Error("fire: load reminder", logx.Int64("id", id), logx.Err(err))
		c.disarm(id)
		return
	}
	if r.Status != reminder.StatusActive {
		c.disarm(id)
		return
	}

	sendErr := c.deliver(ctx, r, gen)
	if sendErr == nil {
		c.afterSuccess(ctx, r, gen)
		return
	}
	if errors.Is(sendErr, errSuperseded) {
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-delivery. The reminder stays active with its past
		// fire time and will fire as missed on the next start.
		return
	}
	if kit.IsPermanent(sendErr) {
		c.disarm(id)
		if err := c.store.UpdateReminderStatus(ctx, id, reminder.StatusFailed, sendErr.Error()); err != nil {
			c.log.Error("mark reminder failed", logx.Int64("id", id), logx.Err(err))
		}
		c.bus.Publish(eventbus.Event{
			Type: eventbus.TypeReminderFailed,
			Data: eventbus.ReminderEvent{ReminderID: id, ChatID: r.ChatID, TopicID: r.TopicID, At: c.now(), Error: sendErr.Error()},
		})
		c.log.Warn("reminder target gone, marked failed", logx.Int64("id", id), logx.Err(sendErr))
		return
	}
	c.afterExhausted(ctx, r, gen, sendErr)
}

// deliver makes up to RetryMax attempts with exponential backoff. Returns
// nil on success, the classified error otherwise.
func (c *Core) deliver(ctx context.Context, r *reminder.Reminder, gen uint64) error {
	target := kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.TopicID}
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBase << (attempt - 1)
			if delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if !c.current(r.ID, gen) {
				return errSuperseded
			}
		}
		_, err := c.send.Send(ctx, target, "⏰ "+r.Message, nil)
		if err == nil {
			return nil
		}
		lastErr = err
		if kit.IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		c.bus.Publish(eventbus.Event{
			Type: eventbus.TypeReminderRetry,
			Data: eventbus.ReminderEvent{ReminderID: r.ID, ChatID: r.ChatID, TopicID: r.TopicID, Attempt: attempt + 1, At: c.now(), Error: err.Error()},
		})
		c.log.Warn("reminder delivery attempt failed",
			logx.Int64("id", r.ID), logx.Int("attempt", attempt+1), logx.Err(err))
	}
	return lastErr
}

func (c *Core) afterSuccess(ctx context.Context, r *reminder.Reminder, gen uint64) {
	c.bus.Publish(eventbus.Event{
		Type: eventbus.TypeReminderFired,
		Data: eventbus.ReminderEvent{ReminderID: r.ID, ChatID: r.ChatID, TopicID: r.TopicID, At: c.now()},
	})
	// A Cancel that landed while the send was in flight already wrote a
	// terminal status; writing fired/active over it would resurrect the row
	// on the next Start. The message went out, but the cancel wins the row.
	if !c.current(r.ID, gen) {
		return
	}
	if !r.Recurring() {
		c.disarm(r.ID)
		if err := c.store.UpdateReminderStatus(ctx, r.ID, reminder.StatusFired, ""); err != nil {
			c.log.Error("mark reminder fired", logx.Int64("id", r.ID), logx.Err(err))
		}
		return
	}

	loc, _ := c.zones.Resolve(ctx, r.UserID, r.ChatID)
	next, ok, err := r.Rule().Next(c.now(), loc)
	if err != nil || !ok {
		c.log.Error("recurring reminder has no next fire", logx.Int64("id", r.ID), logx.Err(err))
		c.disarm(r.ID)
		return
	}
	if err := c.store.UpdateReminderNextFire(ctx, r.ID, next); err != nil {
		c.log.Error("persist next fire", logx.Int64("id", r.ID), logx.Err(err))
	}
	if r.LastError != "" {
		// Clear a stale transient-failure marker after a clean delivery.
		if err := c.store.UpdateReminderStatus(ctx, r.ID, reminder.StatusActive, ""); err != nil {
			c.log.Warn("clear last error", logx.Int64("id", r.ID), logx.Err(err))
		}
	}
	c.armIfCurrent(r.ID, gen, next)
}

// afterExhausted handles a fire whose transient retries all failed. The
// reminder stays active: a one-time reminder re-waits one max-delay cycle,
// a recurring one simply moves on to its next occurrence. The last error is
// kept on the row so listings can show it.
func (c *Core) afterExhausted(ctx context.Context, r *reminder.Reminder, gen uint64, sendErr error) {
	// Same cancel-in-flight guard as afterSuccess: the active+last_error
	// write must not overwrite a cancel that landed during the last attempt.
	if !c.current(r.ID, gen) {
		return
	}
	if err := c.store.UpdateReminderStatus(ctx, r.ID, reminder.StatusActive, sendErr.Error()); err != nil {
		c.log.Error("record delivery error", logx.Int64("id", r.ID), logx.Err(err))
	}

	var next time.Time
	if r.Recurring() {
		loc, _ := c.zones.Resolve(ctx, r.UserID, r.ChatID)
		n, ok, err := r.Rule().Next(c.now(), loc)
		if err != nil || !ok {
			c.log.Error("recurring reminder has no next fire", logx.Int64("id", r.ID), logx.Err(err))
			c.disarm(r.ID)
			return
		}
		next = n
	} else {
		next = c.now().Add(c.cfg.RetryMaxDelay)
	}
	if err := c.store.UpdateReminderNextFire(ctx, r.ID, next); err != nil {
		c.log.Error("persist next fire", logx.Int64("id", r.ID), logx.Err(err))
	}
	c.log.Warn("reminder delivery exhausted retries, deferred",
		logx.Int64("id", r.ID), logx.Time("next", next), logx.Err(sendErr))
	c.armIfCurrent(r.ID, gen, next)
}

// NextFireAt reports the armed fire time, for diagnostics.
func (c *Core) NextFireAt(id int64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil {
		return time.Time{}, false
	}
	return e.at, true
}
