package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/match"
	"github.com/sells-group/credengine/internal/model"
)

// OnFormsParsed is the driver's notification that forms appeared on the
// page. Forms already covered by a tracking unit are ignored; each new form
// gets a unit and a store fetch.
func (e *Engine) OnFormsParsed(ctx context.Context, forms []model.ObservedForm) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range forms {
		f := forms[i]
		if f.OriginURL() == nil {
			zap.L().Debug("engine: ignoring form",
				zap.String("origin", f.Origin),
				zap.Stringer("reason", model.FailureMalformedForm),
			)
			continue
		}
		if e.trackedLocked(&f) {
			continue
		}
		u := newTrackingUnit(f)
		e.units = append(e.units, u)
		zap.L().Debug("engine: tracking new form",
			zap.String("unit", u.ID),
			zap.String("origin", f.Origin),
			zap.String("realm", f.SignonRealm),
		)
		e.startFetch(ctx, u)
	}
}

func (e *Engine) trackedLocked(f *model.ObservedForm) bool {
	for _, u := range e.units {
		if match.DoesManage(&u.Observed, f).Complete() {
			return true
		}
	}
	if e.provisional != nil && match.DoesManage(&e.provisional.Observed, f).Complete() {
		return true
	}
	return false
}

// OnFormSubmitted routes a submitted form to the unit that manages it, moves
// that unit into the provisional slot, and assembles the pending credential.
// The returned reason is diagnostic only; FailureNone means the submission
// is being tracked.
func (e *Engine) OnFormSubmitted(ctx context.Context, form model.ObservedForm) model.FailureReason {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.client.IsSavingEnabled(form.Origin) {
		return e.dropSubmission(form, model.FailureSavingDisabled)
	}
	if form.OriginURL() == nil {
		return e.dropSubmission(form, model.FailureMalformedForm)
	}
	if form.PasswordToSave() == "" && form.FederationOrigin == "" {
		return e.dropSubmission(form, model.FailureEmptyPassword)
	}

	matched := e.matchSubmissionLocked(&form)
	if matched == nil {
		return e.dropSubmission(form, model.FailureNoMatchingForm)
	}

	if e.provisional != nil {
		zap.L().Debug("engine: replacing unresolved provisional unit",
			zap.String("unit", e.provisional.ID))
	}
	e.removeUnitLocked(matched.ID)
	e.provisional = matched
	e.rendered = nil

	submitted := form
	// The value just submitted is what the user wants next time.
	submitted.Preferred = true
	matched.Provisional = &submitted

	if matched.state == StateReady {
		e.buildPending(ctx, matched)
	} else {
		matched.deferredSubmit = true
	}
	return model.FailureNone
}

// matchSubmissionLocked applies the precedence exact > action-agnostic >
// origin-only (the last tier for signup forms only). An exact match wins
// immediately; lower tiers keep searching for something better.
func (e *Engine) matchSubmissionLocked(form *model.ObservedForm) *TrackingUnit {
	var best *TrackingUnit
	tier := 0
	for _, u := range e.units {
		r := match.DoesManage(&u.Observed, form)
		switch {
		case r.Complete():
			return u
		case r.OriginsMatch && r.AttributesMatch:
			if tier < 2 {
				best, tier = u, 2
			}
		case r.OriginsMatch && form.IsSignupForm:
			if tier < 1 {
				best, tier = u, 1
			}
		}
	}
	return best
}

func (e *Engine) dropSubmission(form model.ObservedForm, reason model.FailureReason) model.FailureReason {
	zap.L().Info("engine: submission dropped",
		zap.String("origin", form.Origin),
		zap.Stringer("reason", reason),
	)
	return reason
}

func (e *Engine) removeUnitLocked(unitID string) {
	for i, u := range e.units {
		if u.ID == unitID {
			e.units = append(e.units[:i], e.units[i+1:]...)
			return
		}
	}
}

// OnFormsRendered is the driver's notification of forms visible after the
// post-submission navigation. Forms accumulate until the page stops loading;
// then the provisional submission is judged: if the submitted action is back
// on screen the login failed, otherwise it succeeded.
func (e *Engine) OnFormsRendered(ctx context.Context, visible []model.ObservedForm, didStopLoading bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.provisional == nil {
		return
	}
	e.rendered = append(e.rendered, visible...)
	if !didStopLoading {
		return
	}
	if e.provisional.Pending == nil {
		// Store results have not arrived yet; the verdict runs right after
		// the pending credential is built.
		e.provisional.verdictDue = true
		return
	}
	e.judgeSubmission(ctx)
}

func (e *Engine) judgeSubmission(ctx context.Context) {
	u := e.provisional
	for i := range e.rendered {
		if match.ActionsMatchUpToHTTPS(u.Pending.Action, e.rendered[i].Action) {
			zap.L().Info("engine: submission judged failed, form reappeared",
				zap.String("unit", u.ID),
				zap.String("action", u.Pending.Action),
			)
			e.provisional = nil
			e.rendered = nil
			return
		}
	}
	e.provisional = nil
	e.rendered = nil
	e.onSubmissionSucceeded(ctx, u)
}

// DidNavigateMainFrame drops every tracking unit and the provisional slot.
// Units parked behind an open prompt survive; the prompt outlives the page.
func (e *Engine) DidNavigateMainFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.units = nil
	e.provisional = nil
	e.rendered = nil
}

// OnGeneratedPasswordAccepted marks the unit managing the form as carrying a
// generated password, which forces generated provenance and silent saving.
func (e *Engine) OnGeneratedPasswordAccepted(form model.ObservedForm) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, u := range e.units {
		if !match.DoesManage(&u.Observed, &form).None() {
			u.hasGeneratedPassword = true
			return
		}
	}
	if e.provisional != nil && !match.DoesManage(&e.provisional.Observed, &form).None() {
		e.provisional.hasGeneratedPassword = true
	}
}

// InformStoreChanged re-runs matching for every live unit after an external
// mutation of the stored data. Outstanding queries coalesce per unit.
func (e *Engine) InformStoreChanged(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, u := range e.units {
		e.requestFetch(ctx, u)
	}
	if e.provisional != nil {
		e.requestFetch(ctx, e.provisional)
	}
}

// PermanentlyBlacklist records a never-save entry for the form tracked by
// the given unit.
func (e *Engine) PermanentlyBlacklist(ctx context.Context, unitID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.findUnitLocked(unitID)
	if u == nil {
		return eris.Errorf("engine: no tracking unit %s", unitID)
	}
	cred, err := e.saver.PermanentlyBlacklist(ctx, &u.Observed)
	if err != nil {
		return eris.Wrap(err, "engine: blacklist form")
	}
	u.Matches.Blacklisted = append(u.Matches.Blacklisted, cred)
	zap.L().Info("engine: form blacklisted",
		zap.String("unit", u.ID),
		zap.String("realm", u.Observed.SignonRealm),
	)
	return nil
}
