package match

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/model"
)

// BuildMatchSet partitions one store lookup's results for the observed form.
// Federated credentials are diverted before scoring; blacklisted rows either
// become blacklist matches or are dropped entirely. Everything else is
// scored, and per-username score maxima decide best versus secondary. Ties
// go to the first candidate seen, both globally and per username.
func BuildMatchSet(observed *model.ObservedForm, creds []model.StoredCredential) *model.MatchSet {
	set := model.NewMatchSet()

	var scoreable []*model.StoredCredential
	for i := range creds {
		c := &creds[i]
		switch {
		case c.BlacklistedByUser:
			if IsBlacklistMatch(observed, c) {
				set.Blacklisted = append(set.Blacklisted, c)
			}
		case c.IsFederated():
			set.Federated = append(set.Federated, c)
		default:
			scoreable = append(scoreable, c)
		}
	}
	if len(scoreable) == 0 {
		return set
	}

	scores := make([]int, len(scoreable))
	globalMax := 0
	userMax := make(map[string]int)
	for i, c := range scoreable {
		s := Score(observed, c)
		scores[i] = s
		if s > globalMax {
			globalMax = s
		}
		if s > userMax[c.UsernameValue] {
			userMax[c.UsernameValue] = s
		}
	}

	for i, c := range scoreable {
		if set.Preferred == nil && scores[i] == globalMax {
			set.Preferred = c
		}
		if _, taken := set.Best[c.UsernameValue]; !taken && scores[i] == userMax[c.UsernameValue] {
			set.Best[c.UsernameValue] = c
		} else {
			set.Secondary = append(set.Secondary, c)
		}
	}

	zap.L().Debug("match: built match set",
		zap.String("realm", observed.SignonRealm),
		zap.Int("best", len(set.Best)),
		zap.Int("secondary", len(set.Secondary)),
		zap.Int("blacklisted", len(set.Blacklisted)),
		zap.Int("federated", len(set.Federated)),
	)
	return set
}

// IsBlacklistMatch decides whether a user-blacklisted row vetoes saving for
// the observed form. The row must not itself be a public-suffix match, must
// share scheme and exact origin tuple, and for HTML forms must either sit on
// the identical path or agree on every element name (empty on both sides
// also counts as agreement).
func IsBlacklistMatch(observed *model.ObservedForm, cred *model.StoredCredential) bool {
	if !cred.BlacklistedByUser || cred.IsPublicSuffixMatch {
		return false
	}
	if cred.Scheme != observed.Scheme {
		return false
	}
	if !sameOriginTuple(cred.Origin, observed.Origin) {
		return false
	}
	if observed.Scheme != model.SchemeHTML {
		return true
	}
	if samePath(cred.Origin, observed.Origin) {
		return true
	}
	return elementAgrees(cred.SubmitElement, observed.SubmitElement) &&
		elementAgrees(cred.PasswordElement, observed.PasswordElement) &&
		elementAgrees(cred.UsernameElement, observed.UsernameElement)
}

func elementAgrees(a, b string) bool {
	return a == b || a == "" || b == ""
}

func samePath(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.EscapedPath() == ub.EscapedPath()
}
