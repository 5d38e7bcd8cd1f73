package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/model"
)

// minDigitOnlyUsernameLength is the cutoff below which an all-digit string
// in the alternate-username list is discarded as probably not a username.
// The threshold is inherited behavior; do not re-derive it.
const minDigitOnlyUsernameLength = 3

// buildPending runs the decision tree that turns the submitted form plus the
// current match set into the record to persist. Evaluated strictly in order:
// exact saved match, alternate-username match, ambiguous password update,
// brand-new credential.
func (e *Engine) buildPending(ctx context.Context, u *TrackingUnit) {
	submitted := u.Provisional
	pending := &model.PendingCredential{}

	saved := e.findSavedMatch(u, submitted)
	switch {
	case saved != nil:
		e.basePendingOnSavedMatch(u, submitted, saved, pending)

	case e.opts.OtherPossibleUsernamesEnabled && u.Matches.BestByAlternateUsername(submitted.UsernameValue) != nil:
		base := u.Matches.BestByAlternateUsername(submitted.UsernameValue)
		pending.StoredCredential = *base
		pending.IsNewLogin = false
		pending.UserAction = model.UserActionChoose
		u.basePassword = base.PasswordValue
		// The primary key must survive until the sink runs, so the username
		// swap happens at persistence time.
		u.adoptedUsername = submitted.UsernameValue

	case e.client.IsUpdatePasswordUIEnabled() && len(u.Matches.Best) > 0 &&
		submitted.Type != model.TypeAPI && submitted.LooksLikePasswordUpdate():
		e.basePendingOnUpdateHeuristic(u, submitted, pending)

	default:
		e.basePendingOnObservedForm(u, submitted, pending)
	}

	e.finishPending(ctx, u, submitted, pending)
}

// findSavedMatch looks for the submission's credential among the best
// matches: by username, or by password for a username-less single-password
// form that did not come through the credential API.
func (e *Engine) findSavedMatch(u *TrackingUnit, submitted *model.ObservedForm) *model.StoredCredential {
	if c, ok := u.Matches.Best[submitted.UsernameValue]; ok {
		return c
	}
	if submitted.UsernameElement == "" && submitted.NewPasswordElement == "" &&
		submitted.Type != model.TypeAPI {
		return u.Matches.BestByPassword(submitted.PasswordValue)
	}
	return nil
}

func (e *Engine) basePendingOnSavedMatch(u *TrackingUnit, submitted *model.ObservedForm,
	saved *model.StoredCredential, pending *model.PendingCredential) {

	pending.StoredCredential = *saved
	u.basePassword = saved.PasswordValue
	overridden := submitted.PasswordToSave() != saved.PasswordValue

	if saved.IsPublicSuffixMatch {
		// A cross-domain match never updates the original row; it spawns a
		// fresh record under the current origin and realm.
		pending.Origin = submitted.Origin
		pending.SignonRealm = submitted.SignonRealm
		pending.Action = submitted.Action
		pending.IsNewLogin = true
		if overridden {
			// The user changed the password, so the silent promotion is off:
			// clear the PSL marker and ask for confirmation like any new
			// login with an overridden password.
			pending.PasswordOverridden = true
			pending.IsPublicSuffixMatch = false
			pending.UserAction = model.UserActionOverridePassword
		} else {
			pending.UserAction = model.UserActionChoosePSL
			pending.TimesUsed++
		}
		return
	}

	pending.IsNewLogin = false
	if overridden {
		pending.PasswordOverridden = true
		pending.UserAction = model.UserActionOverridePassword
	} else if u.Matches.Preferred != nil && saved != u.Matches.Preferred {
		pending.UserAction = model.UserActionChoose
	}
}

// basePendingOnUpdateHeuristic handles submissions that look like a password
// change but matched no stored username: pick the stored credential whose
// password the user retyped, or the only credential there is. With a
// generated password and no candidate, fall through to a new record; with
// nothing to go on, keep only the origin and let the user disambiguate.
func (e *Engine) basePendingOnUpdateHeuristic(u *TrackingUnit, submitted *model.ObservedForm,
	pending *model.PendingCredential) {

	u.retryPasswordUpdate = submitted.UsernameElement == "" && submitted.NewPasswordElement == ""

	var base *model.StoredCredential
	if len(u.Matches.Best) == 1 && !u.hasGeneratedPassword {
		for _, c := range u.Matches.Best {
			base = c
		}
	} else {
		base = u.Matches.BestByPassword(submitted.PasswordValue)
	}

	switch {
	case base != nil:
		pending.StoredCredential = *base
		pending.IsNewLogin = false
		u.basePassword = base.PasswordValue
		if submitted.PasswordToSave() != base.PasswordValue {
			pending.PasswordOverridden = true
			pending.UserAction = model.UserActionOverridePassword
		}
	case u.hasGeneratedPassword:
		e.basePendingOnObservedForm(u, submitted, pending)
	default:
		pending.IsNewLogin = false
		pending.Origin = submitted.Origin
		pending.SignonRealm = submitted.SignonRealm
		pending.Scheme = submitted.Scheme
		u.ambiguousUpdate = true
	}
}

// basePendingOnObservedForm starts a brand-new credential from the tracked
// observation, with the submitted values layered on top.
func (e *Engine) basePendingOnObservedForm(u *TrackingUnit, submitted *model.ObservedForm,
	pending *model.PendingCredential) {

	observed := &u.Observed
	pending.StoredCredential = model.StoredCredential{
		Origin:          observed.Origin,
		Action:          observed.Action,
		SignonRealm:     observed.SignonRealm,
		Scheme:          observed.Scheme,
		UsernameElement: observed.UsernameElement,
		PasswordElement: observed.PasswordElement,
		SubmitElement:   observed.SubmitElement,
	}
	if submitted.ParsedWithPredictions {
		pending.UsernameElement = submitted.UsernameElement
	}
	pending.UsernameValue = submitted.UsernameValue
	pending.OtherPossibleUsernames = sanitizePossibleUsernames(
		submitted.OtherPossibleUsernames, submitted.UsernameValue)

	// Sign-up and change-password forms rarely share element names with the
	// login form that will eventually reuse this record.
	if observed.NewPasswordElement != "" {
		pending.PasswordElement = ""
	}

	pending.IsNewLogin = true
	pending.UserAction = model.UserActionOverrideUsernameAndPassword
}

// finishPending applies the common tail of the decision tree: final password
// value, action backfill, provenance, and API passthrough fields.
func (e *Engine) finishPending(ctx context.Context, u *TrackingUnit, submitted *model.ObservedForm,
	pending *model.PendingCredential) {

	if pending.Action == "" {
		pending.Action = u.Observed.Action
	}
	pending.PasswordValue = submitted.PasswordToSave()
	pending.Preferred = submitted.Preferred
	pending.RetryPasswordUpdate = u.retryPasswordUpdate

	if submitted.Type == model.TypeAPI {
		pending.Type = model.TypeAPI
		pending.FederationOrigin = submitted.FederationOrigin
		pending.DisplayName = submitted.DisplayName
		pending.IconURL = submitted.IconURL
		pending.SkipZeroClick = submitted.SkipZeroClick
	}

	// Overriding a generated password without re-generating demotes the
	// record to a manual one.
	if pending.UserAction == model.UserActionOverridePassword &&
		pending.Type == model.TypeGenerated && !u.hasGeneratedPassword {
		pending.Type = model.TypeManual
	}
	if u.hasGeneratedPassword {
		pending.Type = model.TypeGenerated
	}

	u.Pending = pending

	if pending.PasswordOverridden {
		if err := e.saver.WipeOutdatedCopies(ctx, pending, u.Matches); err != nil {
			zap.L().Warn("engine: wipe outdated copies", zap.Error(err))
		}
	}

	zap.L().Debug("engine: pending credential assembled",
		zap.String("unit", u.ID),
		zap.String("realm", pending.SignonRealm),
		zap.Bool("new_login", pending.IsNewLogin),
		zap.Bool("password_overridden", pending.PasswordOverridden),
		zap.Stringer("user_action", pending.UserAction),
	)
}

// sanitizePossibleUsernames deduplicates the alternate-username list and
// drops the primary username and values unlikely to be usernames at all.
func sanitizePossibleUsernames(usernames []string, primary string) []string {
	if len(usernames) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(usernames))
	var out []string
	for _, name := range usernames {
		if name == "" || name == primary || seen[name] {
			continue
		}
		if isShortDigitString(name) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func isShortDigitString(s string) bool {
	if len(s) >= minDigitOnlyUsernameLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
