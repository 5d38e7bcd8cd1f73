package engine

import (
	"sort"

	"github.com/google/uuid"

	"github.com/sells-group/credengine/internal/model"
)

// TrackingUnit holds everything the engine knows about one observed form: the
// immutable observation, the current match set, the submitted replay, and the
// pending credential assembled from the two. A unit lives in the dispatcher's
// main collection until its form is submitted, at which point ownership moves
// to the single provisional slot.
type TrackingUnit struct {
	ID       string
	Observed model.ObservedForm

	Matches *model.MatchSet
	Stats   []model.InteractionStats

	// Provisional is the copy of the submitted form data. Set when the unit
	// enters the provisional slot.
	Provisional *model.ObservedForm

	// Pending is the record the pending-credential builder decided to
	// persist, nil until the builder has run.
	Pending *model.PendingCredential

	state         FetchState
	refetchNeeded bool
	fetchGen      uint64

	// deferredSubmit marks a submission that arrived before the store
	// results; the builder runs as soon as the unit reaches StateReady.
	deferredSubmit bool

	// verdictDue marks that the page finished loading while the pending
	// credential was still being assembled; the success/failure verdict runs
	// right after the builder.
	verdictDue bool

	hasGeneratedPassword bool
	retryPasswordUpdate  bool

	// ambiguousUpdate marks an update submission that could not be pinned to
	// any stored credential. The user is always asked, and acceptance still
	// writes nothing because there is no row to rewrite.
	ambiguousUpdate bool

	// adoptedUsername is the alternate username the submission matched; it
	// replaces the stored primary username only at persistence time so the
	// old primary key stays available for the update.
	adoptedUsername string

	// basePassword is the stored password of the credential the builder
	// based the pending record on, kept to find related rows at update time.
	basePassword string
}

func newTrackingUnit(form model.ObservedForm) *TrackingUnit {
	return &TrackingUnit{
		ID:       uuid.New().String(),
		Observed: form,
		Matches:  model.NewMatchSet(),
		state:    StatePreFetch,
	}
}

// State returns the unit's fetch lifecycle state.
func (u *TrackingUnit) State() FetchState { return u.state }

// UnitSnapshot is a read-only view of a tracking unit for diagnostics and
// the serve API.
type UnitSnapshot struct {
	ID            string   `json:"id"`
	Origin        string   `json:"origin"`
	SignonRealm   string   `json:"signon_realm"`
	State         string   `json:"state"`
	BestUsernames []string `json:"best_usernames,omitempty"`
	Blacklisted   bool     `json:"blacklisted"`
	Provisional   bool     `json:"provisional"`
}

func (u *TrackingUnit) snapshot(provisional bool) UnitSnapshot {
	s := UnitSnapshot{
		ID:          u.ID,
		Origin:      u.Observed.Origin,
		SignonRealm: u.Observed.SignonRealm,
		State:       u.state.String(),
		Blacklisted: u.Matches.IsBlacklisted(),
		Provisional: provisional,
	}
	for username := range u.Matches.Best {
		s.BestUsernames = append(s.BestUsernames, username)
	}
	sort.Strings(s.BestUsernames)
	return s
}
