package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/model"
)

// onSubmissionSucceeded is the save-decision policy: drop, prompt, or
// persist silently. The unit has already left the provisional slot.
func (e *Engine) onSubmissionSucceeded(ctx context.Context, u *TrackingUnit) {
	pending := u.Pending
	if pending == nil {
		e.dropResolved(u, model.FailureMatchingNotComplete)
		return
	}
	if !e.client.ShouldSave(&pending.StoredCredential) {
		e.dropResolved(u, model.FailureSyncCredentialExcluded)
		return
	}
	if u.Matches.IsBlacklisted() {
		e.dropResolved(u, model.FailureFormBlacklisted)
		return
	}

	changePasswordNoUsername := u.Provisional.IsChangePasswordForm && u.Provisional.UsernameElement == ""
	needsConfirmation := pending.IsNewLogin ||
		changePasswordNoUsername ||
		pending.PasswordOverridden ||
		pending.RetryPasswordUpdate ||
		u.ambiguousUpdate

	// A generated password is saved without asking, and so is a cross-domain
	// match silently promoted to this origin with the same password.
	silent := u.hasGeneratedPassword || pending.UserAction == model.UserActionChoosePSL

	if needsConfirmation && !silent {
		if e.promptSuppressed(u) {
			e.dropResolved(u, model.FailurePromptSuppressed)
			return
		}
		req := PromptRequest{UnitID: u.ID, Pending: *pending, IsUpdate: !pending.IsNewLogin}
		if !e.client.PromptToSaveOrUpdate(req) {
			// No surface to ask on; the conservative outcome is no write.
			e.dropResolved(u, model.FailureSavingDisabled)
			return
		}
		e.prompted[u.ID] = u
		return
	}

	if err := e.savePending(ctx, u); err != nil {
		zap.L().Error("engine: persist failed",
			zap.String("unit", u.ID),
			zap.Error(err),
		)
		return
	}
	if pending.Type == model.TypeGenerated {
		e.client.NotifyAutoSavedGeneratedPassword(&pending.StoredCredential)
	}
}

func (e *Engine) dropResolved(u *TrackingUnit, reason model.FailureReason) {
	zap.L().Info("engine: submission not persisted",
		zap.String("unit", u.ID),
		zap.Stringer("reason", reason),
	)
}

// promptSuppressed consults the site interaction statistics: a user who has
// dismissed the save prompt for this origin and username enough times is not
// asked again.
func (e *Engine) promptSuppressed(u *TrackingUnit) bool {
	dismissals := 0
	for _, s := range u.Stats {
		if s.UsernameValue == "" || s.UsernameValue == u.Pending.UsernameValue {
			dismissals += s.DismissalCount
		}
	}
	return dismissals >= e.opts.PromptDismissThreshold
}

// ResolvePrompt delivers the user's answer to an open save/update prompt.
func (e *Engine) ResolvePrompt(ctx context.Context, unitID string, accept bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.prompted[unitID]
	if !ok {
		return eris.Errorf("engine: no open prompt for unit %s", unitID)
	}
	delete(e.prompted, unitID)

	if !accept {
		zap.L().Info("engine: save prompt dismissed", zap.String("unit", u.ID))
		return nil
	}
	return e.savePending(ctx, u)
}

// savePending hands the pending credential to the sink: an insert for a new
// login, otherwise an update, with related rows and the old primary key
// attached as needed.
func (e *Engine) savePending(ctx context.Context, u *TrackingUnit) error {
	pending := u.Pending

	if pending.IsNewLogin {
		if pending.DateCreated.IsZero() {
			pending.DateCreated = e.now()
		}
		if err := e.saver.Save(ctx, pending, u.Matches.Best); err != nil {
			return eris.Wrap(err, "engine: save new credential")
		}
		zap.L().Info("engine: credential saved",
			zap.String("realm", pending.SignonRealm),
			zap.Stringer("type", pending.Type),
		)
		return nil
	}

	if u.ambiguousUpdate {
		// No stored row was ever identified; there is nothing safe to write.
		zap.L().Info("engine: ambiguous update dropped, no target credential",
			zap.String("realm", pending.SignonRealm))
		return nil
	}

	pending.TimesUsed++

	var toUpdate []model.StoredCredential

	// A changed password propagates to related rows that carried the same
	// old password for the same username.
	if pending.PasswordOverridden {
		for _, m := range u.Matches.Secondary {
			if m.UsernameValue == pending.UsernameValue && m.PasswordValue == u.basePassword {
				c := *m
				c.PasswordValue = pending.PasswordValue
				toUpdate = append(toUpdate, c)
			}
		}
	}

	// The submitted credential becomes the preferred one; demote the rest.
	if pending.Preferred && !pending.IsPublicSuffixMatch {
		for _, m := range u.Matches.Best {
			if m.Preferred && !m.IsPublicSuffixMatch && m.UsernameValue != pending.UsernameValue {
				c := *m
				c.Preferred = false
				toUpdate = append(toUpdate, c)
			}
		}
	}

	var oldKey *model.CredentialKey
	if u.adoptedUsername != "" && u.adoptedUsername != pending.UsernameValue {
		k := pending.Key()
		oldKey = &k
		pending.OtherPossibleUsernames = removeString(
			append(pending.OtherPossibleUsernames, pending.UsernameValue), u.adoptedUsername)
		pending.UsernameValue = u.adoptedUsername
	}

	if err := e.saver.Update(ctx, pending, u.Matches.Best, toUpdate, oldKey); err != nil {
		return eris.Wrap(err, "engine: update credential")
	}
	// Keep the in-memory match set consistent with what was just written.
	for _, m := range u.Matches.Best {
		if m.UsernameValue == pending.UsernameValue || (oldKey != nil && m.UsernameValue == oldKey.UsernameValue) {
			m.PasswordValue = pending.PasswordValue
		}
	}
	zap.L().Info("engine: credential updated",
		zap.String("realm", pending.SignonRealm),
		zap.Int("related_rows", len(toUpdate)),
		zap.Bool("key_changed", oldKey != nil),
	)
	return nil
}

// removeString copies; the input may share backing with match set entries.
func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
