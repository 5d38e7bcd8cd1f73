package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/match"
	"github.com/sells-group/credengine/internal/model"
	"github.com/sells-group/credengine/internal/store"
)

// Options tunes engine behavior. Zero values give the defaults used in
// production.
type Options struct {
	// OtherPossibleUsernamesEnabled lets a submission match a stored
	// credential through its alternate-username list.
	OtherPossibleUsernamesEnabled bool

	// PromptDismissThreshold suppresses save prompts for an origin/username
	// pair the user already dismissed this many times. 0 means use the
	// default of 3.
	PromptDismissThreshold int

	// RunAsync overrides how store queries are dispatched off the event
	// path. The replacement must not run the task synchronously. Nil means
	// a plain goroutine.
	RunAsync func(fn func())
}

const defaultPromptDismissThreshold = 3

// Engine is the dispatcher: it owns one tracking unit per observed form, the
// single provisional slot for a just-submitted unit, and the units parked
// behind an open save prompt. All entry points serialize on one mutex; the
// only suspension point is the store query, whose results re-enter through
// onLoginsFetched.
type Engine struct {
	mu sync.Mutex

	store  StoreFetcher
	saver  FormSaver
	client Client
	driver Driver
	opts   Options

	units       []*TrackingUnit
	provisional *TrackingUnit
	prompted    map[string]*TrackingUnit

	// rendered accumulates forms seen since the submission, inspected once
	// the page stops loading to judge submission success or failure.
	rendered []model.ObservedForm

	// runAsync dispatches the store query off the event path. Tests replace
	// it with a task queue to drive delivery order by hand; the replacement
	// must not run the task synchronously.
	runAsync func(fn func())
	now      func() time.Time
}

// New creates an Engine wired to its four collaborators.
func New(st StoreFetcher, saver FormSaver, client Client, driver Driver, opts Options) *Engine {
	if opts.PromptDismissThreshold <= 0 {
		opts.PromptDismissThreshold = defaultPromptDismissThreshold
	}
	e := &Engine{
		store:    st,
		saver:    saver,
		client:   client,
		driver:   driver,
		opts:     opts,
		prompted: make(map[string]*TrackingUnit),
		runAsync: func(fn func()) { go fn() },
		now:      time.Now,
	}
	if opts.RunAsync != nil {
		e.runAsync = opts.RunAsync
	}
	return e
}

// requestFetch asks for (re)matching against the store. Overlapping requests
// while a query is outstanding coalesce into a single refetch.
func (e *Engine) requestFetch(ctx context.Context, u *TrackingUnit) {
	if u.state == StateFetching {
		u.refetchNeeded = true
		return
	}
	e.startFetch(ctx, u)
}

func (e *Engine) startFetch(ctx context.Context, u *TrackingUnit) {
	u.state = StateFetching
	u.fetchGen++
	gen := u.fetchGen
	unitID := u.ID
	realm := u.Observed.SignonRealm
	scheme := u.Observed.Scheme

	// The query and whatever it triggers outlive the event that asked for it;
	// the caller's context dies as soon as its HTTP handler returns.
	ctx = context.WithoutCancel(ctx)

	e.runAsync(func() {
		creds, err := e.store.GetLogins(ctx, realm, scheme)
		e.onLoginsFetched(ctx, unitID, gen, creds, err)
	})

	// Interaction statistics ride along with the first fetch only, and never
	// in private browsing.
	if gen == 1 && !e.client.IsOffTheRecord() {
		domain := store.OriginDomain(u.Observed.Origin)
		e.runAsync(func() {
			stats, err := e.store.GetSiteStats(ctx, domain)
			e.onStatsFetched(unitID, stats, err)
		})
	}
}

// onLoginsFetched is the store result handler. Stale generations and results
// for units that no longer exist are dropped; a pending refetch discards the
// results and issues a fresh query.
func (e *Engine) onLoginsFetched(ctx context.Context, unitID string, gen uint64, creds []model.StoredCredential, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.findUnitLocked(unitID)
	if u == nil {
		zap.L().Debug("engine: store result for discarded unit", zap.String("unit", unitID))
		return
	}
	if gen != u.fetchGen {
		return
	}
	if u.refetchNeeded {
		u.refetchNeeded = false
		e.startFetch(ctx, u)
		return
	}
	if err != nil {
		zap.L().Warn("engine: store lookup failed, treating as zero results",
			zap.String("realm", u.Observed.SignonRealm),
			zap.Error(err),
		)
		creds = nil
	}

	u.Matches = match.BuildMatchSet(&u.Observed, creds)
	u.state = StateReady

	e.maybeAutofill(u)
	e.maybeAllowGeneration(u)

	if u.deferredSubmit && u.Provisional != nil {
		u.deferredSubmit = false
		e.buildPending(ctx, u)
		if u.verdictDue {
			u.verdictDue = false
			e.judgeSubmission(ctx)
		}
	}
}

func (e *Engine) onStatsFetched(unitID string, stats []model.InteractionStats, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		zap.L().Debug("engine: site statistics lookup failed", zap.Error(err))
		return
	}
	if u := e.findUnitLocked(unitID); u != nil {
		u.Stats = stats
	}
}

// findUnitLocked searches the main collection and the provisional slot.
// Units parked behind a prompt no longer consume store results.
func (e *Engine) findUnitLocked(unitID string) *TrackingUnit {
	for _, u := range e.units {
		if u.ID == unitID {
			return u
		}
	}
	if e.provisional != nil && e.provisional.ID == unitID {
		return e.provisional
	}
	return nil
}

func (e *Engine) maybeAutofill(u *TrackingUnit) {
	if !e.client.IsFillingEnabled(u.Observed.Origin) {
		return
	}
	if len(u.Matches.Best) == 0 && len(u.Matches.Federated) == 0 {
		return
	}
	// Filling from a cross-domain match, or into a form that also carries a
	// new-password field, should not happen without the user picking a
	// username first.
	wait := u.Observed.NewPasswordElement != "" ||
		(u.Matches.Preferred != nil && u.Matches.Preferred.IsPublicSuffixMatch)
	e.driver.Fill(FillData{
		Form:            u.Observed,
		Best:            u.Matches.Best,
		Federated:       u.Matches.Federated,
		Preferred:       u.Matches.Preferred,
		WaitForUsername: wait,
	})
}

func (e *Engine) maybeAllowGeneration(u *TrackingUnit) {
	if u.Matches.IsBlacklisted() {
		return
	}
	if !u.Observed.IsSignupForm && !u.Observed.IsChangePasswordForm {
		return
	}
	if !e.client.IsSavingEnabled(u.Observed.Origin) {
		return
	}
	e.driver.AllowGeneration(u.Observed)
}

// Units returns diagnostic snapshots of every live tracking unit, main
// collection first, then the provisional slot, ordered by origin for stable
// output.
func (e *Engine) Units() []UnitSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]UnitSnapshot, 0, len(e.units)+1)
	for _, u := range e.units {
		out = append(out, u.snapshot(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	if e.provisional != nil {
		out = append(out, e.provisional.snapshot(true))
	}
	return out
}
