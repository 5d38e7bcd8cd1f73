// Package match implements form fingerprint matching, credential scoring,
// and match-set construction. Everything here is pure computation over model
// types; no I/O.
package match

import (
	"net/url"
	"strings"

	"github.com/sells-group/credengine/internal/model"
)

// Result is the outcome of comparing a tracked form against a candidate
// form. The booleans are independent; None and Complete derive from them.
type Result struct {
	OriginsMatch    bool
	AttributesMatch bool
	ActionMatch     bool
}

// None reports that nothing matched.
func (r Result) None() bool {
	return !r.OriginsMatch && !r.AttributesMatch && !r.ActionMatch
}

// Complete reports that every aspect relevant to the scheme matched.
func (r Result) Complete() bool {
	return r.OriginsMatch && r.AttributesMatch && r.ActionMatch
}

// DoesManage decides whether a newly seen or newly submitted candidate form
// corresponds to the tracked form. For non-HTML auth schemes this collapses
// to realm+scheme equality. For HTML forms, origins gate everything: if the
// origins cannot be reconciled, the result is empty regardless of attributes.
func DoesManage(tracked, candidate *model.ObservedForm) Result {
	if tracked.Scheme != candidate.Scheme {
		return Result{}
	}

	if tracked.Scheme != model.SchemeHTML {
		if tracked.SignonRealm == candidate.SignonRealm {
			return Result{OriginsMatch: true, AttributesMatch: true, ActionMatch: true}
		}
		return Result{}
	}

	if !originsMatch(tracked, candidate) {
		return Result{}
	}

	r := Result{OriginsMatch: true}

	// Forms parsed with server-side element predictions may carry synthetic
	// names, so attribute equality is waived for them.
	if candidate.ParsedWithPredictions ||
		(tracked.UsernameElement == candidate.UsernameElement &&
			tracked.PasswordElement == candidate.PasswordElement) {
		r.AttributesMatch = true
	}

	r.ActionMatch = actionsMatch(tracked.Action, candidate.Action)
	return r
}

// originsMatch reconciles the candidate origin with the tracked form. Beyond
// exact equality it tolerates two navigation artifacts: a failed login
// rendering the form at the tracked action URL, and a plain-HTTP form
// retried over HTTPS at the same or a deeper path.
func originsMatch(tracked, candidate *model.ObservedForm) bool {
	if tracked.Origin == candidate.Origin {
		return true
	}
	if tracked.Action != "" && candidate.Origin == tracked.Action {
		return true
	}

	t := tracked.OriginURL()
	c := candidate.OriginURL()
	if t == nil || c == nil {
		return false
	}
	if t.Hostname() != c.Hostname() {
		return false
	}
	if t.Scheme != "http" || c.Scheme != "https" {
		return false
	}
	// Explicit ports must agree; default ports track their schemes.
	if t.Port() != c.Port() {
		return false
	}
	return strings.HasPrefix(c.EscapedPath(), t.EscapedPath())
}

// actionsMatch compares action URLs. Two empty actions match; a valid action
// only matches an equal valid action. Invalid or half-empty pairs never
// match.
func actionsMatch(a, b string) bool {
	if a == "" && b == "" {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil || ua.Host == "" || ub.Host == "" {
		return false
	}
	return a == b
}

// ActionsMatchUpToHTTPS reports whether two action URLs are equal exactly or
// after upgrading the first one's scheme from http to https. Used by the
// dispatcher to spot a login form reappearing after a redirect to TLS.
func ActionsMatchUpToHTTPS(submitted, rendered string) bool {
	if submitted == "" || rendered == "" {
		return false
	}
	if submitted == rendered {
		return true
	}
	if strings.HasPrefix(submitted, "http://") {
		return "https://"+strings.TrimPrefix(submitted, "http://") == rendered
	}
	return false
}

// portOf returns the explicit port or the scheme default.
func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// sameOriginTuple reports scheme+host+port equality of two origin URLs.
func sameOriginTuple(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Hostname() == ub.Hostname() && portOf(ua) == portOf(ub)
}
