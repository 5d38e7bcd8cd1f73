package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credengine/internal/model"
)

// fakeWriter records every mutation in call order.
type fakeWriter struct {
	added   []model.StoredCredential
	updated []model.StoredCredential
	keyed   []model.CredentialKey
	removed []model.CredentialKey
	addErr  error
	updErr  error
}

func (w *fakeWriter) AddLogin(ctx context.Context, cred *model.StoredCredential) error {
	if w.addErr != nil {
		return w.addErr
	}
	if cred.ID == "" {
		cred.ID = "generated-id"
	}
	w.added = append(w.added, *cred)
	return nil
}

func (w *fakeWriter) UpdateLogin(ctx context.Context, cred *model.StoredCredential) error {
	if w.updErr != nil {
		return w.updErr
	}
	w.updated = append(w.updated, *cred)
	return nil
}

func (w *fakeWriter) UpdateLoginWithPrimaryKey(ctx context.Context, cred *model.StoredCredential, oldKey model.CredentialKey) error {
	w.updated = append(w.updated, *cred)
	w.keyed = append(w.keyed, oldKey)
	return nil
}

func (w *fakeWriter) RemoveLogin(ctx context.Context, key model.CredentialKey) error {
	w.removed = append(w.removed, key)
	return nil
}

func cred(username, password string, preferred bool) *model.StoredCredential {
	return &model.StoredCredential{
		ID:              "cred-" + username,
		SignonRealm:     "https://www.example.com/",
		UsernameElement: "Email",
		UsernameValue:   username,
		PasswordElement: "Passwd",
		PasswordValue:   password,
		Preferred:       preferred,
	}
}

func TestSave_DemotesOtherPreferredRows(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "secret", true)}
	pending.ID = ""
	best := map[string]*model.StoredCredential{
		"bob":   cred("bob", "other", true),
		"carol": cred("carol", "third", false),
	}

	require.NoError(t, s.Save(context.Background(), pending, best))

	require.Len(t, w.added, 1)
	assert.Equal(t, "alice", w.added[0].UsernameValue)
	assert.Equal(t, w.added[0].ID, pending.ID)

	// Only bob carried the preferred flag.
	require.Len(t, w.updated, 1)
	assert.Equal(t, "bob", w.updated[0].UsernameValue)
	assert.False(t, w.updated[0].Preferred)
}

func TestSave_CrossDomainRowsNeverDemoted(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	psl := cred("bob", "other", true)
	psl.IsPublicSuffixMatch = true
	pending := &model.PendingCredential{StoredCredential: *cred("alice", "secret", true)}

	require.NoError(t, s.Save(context.Background(), pending,
		map[string]*model.StoredCredential{"bob": psl}))
	assert.Empty(t, w.updated)
}

func TestSave_NotPreferredSkipsDemotion(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "secret", false)}
	require.NoError(t, s.Save(context.Background(), pending,
		map[string]*model.StoredCredential{"bob": cred("bob", "other", true)}))
	assert.Empty(t, w.updated)
}

func TestSave_AddError(t *testing.T) {
	w := &fakeWriter{addErr: errors.New("disk full")}
	s := New(w)

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "secret", true)}
	assert.Error(t, s.Save(context.Background(), pending, nil))
}

func TestUpdate_PlainAndRelatedRows(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "rotated", true)}
	related := []model.StoredCredential{*cred("alice-old", "rotated", false)}

	require.NoError(t, s.Update(context.Background(), pending, nil, related, nil))

	require.Len(t, w.updated, 2)
	assert.Equal(t, "alice", w.updated[0].UsernameValue)
	assert.Equal(t, "alice-old", w.updated[1].UsernameValue)
	assert.Empty(t, w.keyed)
}

func TestUpdate_KeyChanging(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	pending := &model.PendingCredential{StoredCredential: *cred("alice@example.com", "secret", true)}
	oldKey := cred("alice", "secret", true).Key()

	require.NoError(t, s.Update(context.Background(), pending, nil, nil, &oldKey))

	require.Len(t, w.keyed, 1)
	assert.Equal(t, "alice", w.keyed[0].UsernameValue)
	require.Len(t, w.updated, 1)
	assert.Equal(t, "alice@example.com", w.updated[0].UsernameValue)
}

func TestPermanentlyBlacklist_StripsValues(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	observed := &model.ObservedForm{
		Origin:          "https://www.example.com/login",
		Action:          "https://www.example.com/login",
		SignonRealm:     "https://www.example.com/",
		Scheme:          model.SchemeHTML,
		UsernameElement: "Email",
		UsernameValue:   "typed-but-discarded",
		PasswordElement: "Passwd",
		PasswordValue:   "typed-but-discarded",
	}

	got, err := s.PermanentlyBlacklist(context.Background(), observed)
	require.NoError(t, err)
	assert.True(t, got.BlacklistedByUser)
	assert.Empty(t, got.UsernameValue)
	assert.Empty(t, got.PasswordValue)
	assert.Equal(t, "Email", got.UsernameElement)

	require.Len(t, w.added, 1)
	assert.True(t, w.added[0].BlacklistedByUser)
}

func TestWipeOutdatedCopies(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	stale := cred("alice@example.com", "old-secret", false)
	unrelated := cred("bob", "old-secret", false)
	staleSecondary := cred("alice@example.com", "older-still", false)
	staleSecondary.ID = "cred-secondary"

	matches := &model.MatchSet{
		Best: map[string]*model.StoredCredential{
			"alice@example.com": stale,
			"bob":               unrelated,
		},
		Secondary: []*model.StoredCredential{staleSecondary},
	}

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "new-secret", true)}
	pending.OtherPossibleUsernames = []string{"alice@example.com"}

	require.NoError(t, s.WipeOutdatedCopies(context.Background(), pending, matches))

	// Both stale copies are gone from the store and the match set; the row
	// under an unlisted username is untouched.
	require.Len(t, w.removed, 2)
	assert.NotContains(t, matches.Best, "alice@example.com")
	assert.Contains(t, matches.Best, "bob")
	assert.Empty(t, matches.Secondary)
}

func TestWipeOutdatedCopies_SamePasswordKept(t *testing.T) {
	w := &fakeWriter{}
	s := New(w)

	same := cred("alice@example.com", "new-secret", false)
	matches := &model.MatchSet{
		Best: map[string]*model.StoredCredential{"alice@example.com": same},
	}

	pending := &model.PendingCredential{StoredCredential: *cred("alice", "new-secret", true)}
	pending.OtherPossibleUsernames = []string{"alice@example.com"}

	require.NoError(t, s.WipeOutdatedCopies(context.Background(), pending, matches))
	assert.Empty(t, w.removed)
	assert.Contains(t, matches.Best, "alice@example.com")
}
