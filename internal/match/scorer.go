package match

import (
	"net/url"
	"strings"

	"github.com/sells-group/credengine/internal/model"
)

// Scoring weights. The band layout guarantees that an exact-origin match can
// never be beaten by a deep partial-path walk, and that a public-suffix match
// always ranks below an exact-domain match no matter how well its attributes
// agree.
const (
	scoreNotPSLMatch     = 1 << 8
	scorePreferred       = 1 << 7
	scoreExactOrigin     = 1 << 6
	scorePartialPath     = 1 << 5
	scoreActionMatch     = 1 << 3
	scorePasswordElement = 1 << 2
	scoreSubmitElement   = 1 << 1
	scoreUsernameElement = 1 << 0

	// maxPathSegments caps both the exact-origin depth bonus and the
	// partial-path walk.
	maxPathSegments = 63
)

// Score ranks a stored credential against the tracked form. Used only to
// order candidates, never to gate them.
func Score(observed *model.ObservedForm, cred *model.StoredCredential) int {
	score := 0
	if !cred.IsPublicSuffixMatch {
		score += scoreNotPSLMatch
	}
	if cred.Preferred {
		score += scorePreferred
	}

	observedSegments := pathSegments(observed.Origin)
	if cred.Origin == observed.Origin {
		score += scoreExactOrigin + min(len(observedSegments), maxPathSegments)
	} else {
		candidateSegments := pathSegments(cred.Origin)
		limit := min(len(candidateSegments), maxPathSegments)
		if len(observedSegments) < limit {
			limit = len(observedSegments)
		}
		depth := 0
		for depth < limit && observedSegments[depth] == candidateSegments[depth] {
			depth++
			score++
		}
		if depth > 0 {
			score += scorePartialPath
		}
	}

	if observed.Scheme == model.SchemeHTML {
		if cred.Action == observed.Action {
			score += scoreActionMatch
		}
		if cred.PasswordElement == observed.PasswordElement {
			score += scorePasswordElement
		}
		if cred.SubmitElement == observed.SubmitElement {
			score += scoreSubmitElement
		}
		if cred.UsernameElement == observed.UsernameElement {
			score += scoreUsernameElement
		}
	}

	return score
}

// pathSegments splits the path of an origin URL into its directories.
func pathSegments(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil {
		return nil
	}
	trimmed := strings.Trim(u.EscapedPath(), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
