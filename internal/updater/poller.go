package updater

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
	"github.com/user/filmbot/pkg/logger"
)

// Store is the persistence the poll loop reads from and writes back to.
type Store interface {
	ListAutoUpdateGuilds(ctx context.Context) ([]storage.Guild, error)
	ListSubscriptions(ctx context.Context, guildID string) ([]storage.Subscription, error)
	UpdateLastChecked(ctx context.Context, subscriptionID int64, checkedAt time.Time) error
}

// Fetcher returns fresh TMDB metadata.
type Fetcher interface {
	MovieDetails(ctx context.Context, id int) (*tmdb.MovieDetails, error)
	TVDetails(ctx context.Context, id int) (*tmdb.TVDetails, error)
}

// Notifier delivers decided outcomes to a guild.
type Notifier interface {
	// Reachable reports whether the bot can currently see the guild.
	Reachable(guildID string) bool
	Dispatch(ctx context.Context, guild storage.Guild, sub storage.Subscription, out Outcome) error
}

// State is the lifecycle state of a PollLoop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// CycleReport summarizes one pass over all eligible subscriptions.
type CycleReport struct {
	Started          time.Time `json:"started"`
	Finished         time.Time `json:"finished"`
	Guilds           int       `json:"guilds"`
	Checked          int       `json:"checked"`
	Skipped          int       `json:"skipped"`
	Notifications    int       `json:"notifications"`
	DispatchFailures int       `json:"dispatch_failures"`
	Failures         int       `json:"failures"`
}

// PollLoop periodically checks every subscription of every guild with
// auto-update enabled. Guilds and subscriptions are processed sequentially;
// a failure in one never stops the others.
type PollLoop struct {
	store    Store
	fetcher  Fetcher
	notifier Notifier

	// Interval is both the tick period and the minimum time between two
	// checks of the same subscription.
	Interval time.Duration
	// SubscriptionDelay is a courtesy pause after each checked subscription.
	SubscriptionDelay time.Duration
	// FetchTimeout bounds the work on a single subscription.
	FetchTimeout time.Duration

	now func() time.Time

	mu      sync.Mutex
	state   State
	last    *CycleReport
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollLoop creates a new poll loop.
func NewPollLoop(store Store, fetcher Fetcher, notifier Notifier, interval time.Duration) *PollLoop {
	ctx, cancel := context.WithCancel(context.Background())

	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &PollLoop{
		store:             store,
		fetcher:           fetcher,
		notifier:          notifier,
		Interval:          interval,
		SubscriptionDelay: 500 * time.Millisecond,
		FetchTimeout:      30 * time.Second,
		now:               time.Now,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start launches the loop. The first cycle runs once ready is closed, then
// every Interval. Calling Start more than once has no effect.
func (p *PollLoop) Start(ready <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.state == StateStopped {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.loop(ready)
	logger.Info().Dur("interval", p.Interval).Msg("Auto-update loop started")
}

// Stop asks the loop to finish and waits for it. A cycle in progress stops
// at the next guild or subscription boundary.
func (p *PollLoop) Stop() {
	logger.Info().Msg("Stopping auto-update loop")
	p.cancel()
	p.wg.Wait()
	p.setState(StateStopped)
}

// State returns the current lifecycle state.
func (p *PollLoop) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastReport returns the report of the most recent completed cycle.
func (p *PollLoop) LastReport() (CycleReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return CycleReport{}, false
	}
	return *p.last, true
}

func (p *PollLoop) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *PollLoop) loop(ready <-chan struct{}) {
	defer p.wg.Done()

	select {
	case <-p.ctx.Done():
		return
	case <-ready:
	}
	logger.Info().Msg("Auto-update loop initialized")

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		p.RunOnce(p.ctx)

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle and records its report.
func (p *PollLoop) RunOnce(ctx context.Context) CycleReport {
	p.setState(StateRunning)
	defer func() {
		if ctx.Err() == nil {
			p.setState(StateIdle)
		}
	}()

	report := CycleReport{Started: p.now()}
	logger.Info().Msg("Starting auto-update check")

	if err := safely(func() error { return p.cycle(ctx, &report) }); err != nil {
		logger.Error().Err(err).Msg("Auto-update cycle failed")
		report.Failures++
	}

	report.Finished = p.now()
	logger.Info().
		Int("guilds", report.Guilds).
		Int("checked", report.Checked).
		Int("skipped", report.Skipped).
		Int("failures", report.Failures).
		Int("count", report.Notifications).
		Msg("Auto-update check complete")

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	return report
}

func (p *PollLoop) cycle(ctx context.Context, report *CycleReport) error {
	guilds, err := p.store.ListAutoUpdateGuilds(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}

	for _, guild := range guilds {
		if ctx.Err() != nil {
			return nil
		}

		err := safely(func() error { return p.processGuild(ctx, guild, report) })
		if err != nil {
			report.Failures++
			logger.Error().Err(err).Str("guild_id", guild.ID).Msg("Error processing guild")
		}
	}
	return nil
}

func (p *PollLoop) processGuild(ctx context.Context, guild storage.Guild, report *CycleReport) error {
	if !p.notifier.Reachable(guild.ID) {
		logger.Debug().Str("guild_id", guild.ID).Msg("Guild not reachable, skipping")
		return nil
	}

	subs, err := p.store.ListSubscriptions(ctx, guild.ID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	report.Guilds++

	logger.Info().Str("guild_id", guild.ID).Int("count", len(subs)).Msg("Checking subscriptions")

	for _, sub := range subs {
		if ctx.Err() != nil {
			return nil
		}

		var res checkResult
		err := safely(func() (err error) {
			res, err = p.checkSubscription(ctx, guild, sub)
			return err
		})

		switch {
		case res.skipped:
			report.Skipped++
			continue
		case err != nil:
			report.Failures++
			logger.Error().Err(err).
				Int64("subscription_id", sub.ID).
				Int("tmdb_id", sub.TMDBID).
				Str("guild_id", guild.ID).
				Msg("Error checking subscription")
		default:
			report.Checked++
		}
		if res.notified {
			report.Notifications++
		}
		if res.dispatchFailed {
			report.DispatchFailures++
		}

		p.pause(ctx)
	}
	return nil
}

type checkResult struct {
	skipped        bool
	notified       bool
	dispatchFailed bool
}

// checkSubscription evaluates one subscription. The work runs detached from
// ctx's cancellation so a stop request never interrupts it half-way.
func (p *PollLoop) checkSubscription(ctx context.Context, guild storage.Guild, sub storage.Subscription) (checkResult, error) {
	var res checkResult
	now := p.now()

	if sub.LastChecked != nil && now.Sub(*sub.LastChecked) < p.Interval {
		res.skipped = true
		return res, nil
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.FetchTimeout)
	defer cancel()

	snap, err := p.fetch(workCtx, sub)
	if err != nil {
		// last_checked stays put so the next cycle retries.
		return res, err
	}

	if out := Evaluate(sub, snap, now, p.Interval); out != nil {
		if err := p.notifier.Dispatch(workCtx, guild, sub, *out); err != nil {
			res.dispatchFailed = true
			logger.Warn().Err(err).
				Int64("subscription_id", sub.ID).
				Str("guild_id", guild.ID).
				Str("kind", string(out.Kind)).
				Msg("Failed to dispatch notification")
		} else {
			res.notified = true
		}
	}

	if err := p.store.UpdateLastChecked(workCtx, sub.ID, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Int64("subscription_id", sub.ID).Msg("Subscription removed during check")
			return res, nil
		}
		return res, fmt.Errorf("update last checked: %w", err)
	}
	return res, nil
}

func (p *PollLoop) fetch(ctx context.Context, sub storage.Subscription) (Snapshot, error) {
	switch sub.MediaType {
	case storage.MediaMovie:
		movie, err := p.fetcher.MovieDetails(ctx, sub.TMDBID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch movie %d: %w", sub.TMDBID, err)
		}
		return MovieSnapshot(movie), nil
	case storage.MediaTV:
		show, err := p.fetcher.TVDetails(ctx, sub.TMDBID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch tv %d: %w", sub.TMDBID, err)
		}
		return TVSnapshot(show), nil
	}
	return Snapshot{}, fmt.Errorf("unknown media type %q", sub.MediaType)
}

func (p *PollLoop) pause(ctx context.Context) {
	if p.SubscriptionDelay <= 0 {
		return
	}
	timer := time.NewTimer(p.SubscriptionDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// safely runs fn, converting a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
