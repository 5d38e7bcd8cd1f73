// Package sink turns decided credentials into store writes. It owns the row
// bookkeeping around a save: preferred-state demotion, lockstep password
// propagation, key-changing updates, and the cleanup of outdated copies left
// under alternate usernames.
package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credengine/internal/model"
)

// Writer is the mutation subset of the credential store.
type Writer interface {
	AddLogin(ctx context.Context, cred *model.StoredCredential) error
	UpdateLogin(ctx context.Context, cred *model.StoredCredential) error
	UpdateLoginWithPrimaryKey(ctx context.Context, cred *model.StoredCredential, oldKey model.CredentialKey) error
	RemoveLogin(ctx context.Context, key model.CredentialKey) error
}

// Saver persists engine decisions through a store Writer.
type Saver struct {
	store Writer
}

func New(store Writer) *Saver {
	return &Saver{store: store}
}

// Save inserts a brand-new credential and demotes previously preferred rows
// for the same realm.
func (s *Saver) Save(ctx context.Context, pending *model.PendingCredential,
	best map[string]*model.StoredCredential) error {

	cred := pending.StoredCredential
	if err := s.store.AddLogin(ctx, &cred); err != nil {
		return eris.Wrap(err, "sink: add login")
	}
	pending.StoredCredential.ID = cred.ID

	if pending.Preferred {
		if err := s.demoteOthers(ctx, pending, best); err != nil {
			return err
		}
	}
	zap.L().Debug("sink: credential saved",
		zap.String("realm", cred.SignonRealm),
		zap.String("id", cred.ID),
	)
	return nil
}

// Update rewrites the credential's row, optionally under a changed primary
// key, then writes the related rows whose password moves in lockstep.
func (s *Saver) Update(ctx context.Context, pending *model.PendingCredential,
	best map[string]*model.StoredCredential,
	toUpdate []model.StoredCredential, oldKey *model.CredentialKey) error {

	cred := pending.StoredCredential
	var err error
	if oldKey != nil {
		err = s.store.UpdateLoginWithPrimaryKey(ctx, &cred, *oldKey)
	} else {
		err = s.store.UpdateLogin(ctx, &cred)
	}
	if err != nil {
		return eris.Wrap(err, "sink: update login")
	}

	for i := range toUpdate {
		if err := s.store.UpdateLogin(ctx, &toUpdate[i]); err != nil {
			return eris.Wrapf(err, "sink: update related login %s", toUpdate[i].UsernameValue)
		}
	}
	zap.L().Debug("sink: credential updated",
		zap.String("realm", cred.SignonRealm),
		zap.Int("related", len(toUpdate)),
	)
	return nil
}

// demoteOthers clears the preferred flag on every other same-realm row that
// carries it.
func (s *Saver) demoteOthers(ctx context.Context, pending *model.PendingCredential,
	best map[string]*model.StoredCredential) error {

	for _, m := range best {
		if !m.Preferred || m.IsPublicSuffixMatch || m.UsernameValue == pending.UsernameValue {
			continue
		}
		demoted := *m
		demoted.Preferred = false
		if err := s.store.UpdateLogin(ctx, &demoted); err != nil {
			return eris.Wrapf(err, "sink: demote preferred %s", m.UsernameValue)
		}
	}
	return nil
}

// PermanentlyBlacklist stores a never-save row keyed on the form's realm and
// elements, with the values stripped.
func (s *Saver) PermanentlyBlacklist(ctx context.Context, observed *model.ObservedForm) (*model.StoredCredential, error) {
	cred := &model.StoredCredential{
		Origin:            observed.Origin,
		Action:            observed.Action,
		SignonRealm:       observed.SignonRealm,
		Scheme:            observed.Scheme,
		UsernameElement:   observed.UsernameElement,
		PasswordElement:   observed.PasswordElement,
		SubmitElement:     observed.SubmitElement,
		BlacklistedByUser: true,
	}
	if err := s.store.AddLogin(ctx, cred); err != nil {
		return nil, eris.Wrap(err, "sink: add blacklist entry")
	}
	zap.L().Info("sink: realm blacklisted", zap.String("realm", cred.SignonRealm))
	return cred, nil
}

// WipeOutdatedCopies removes stored rows that duplicate the pending
// credential under one of its alternate usernames but carry a different,
// now stale, password. The match set loses the wiped rows in place.
func (s *Saver) WipeOutdatedCopies(ctx context.Context, pending *model.PendingCredential,
	matches *model.MatchSet) error {

	alternates := make(map[string]bool, len(pending.OtherPossibleUsernames))
	for _, name := range pending.OtherPossibleUsernames {
		alternates[name] = true
	}

	outdated := func(c *model.StoredCredential) bool {
		if !alternates[c.UsernameValue] {
			return false
		}
		return c.PasswordValue != pending.PasswordValue
	}

	for username, c := range matches.Best {
		if !outdated(c) {
			continue
		}
		if err := s.store.RemoveLogin(ctx, c.Key()); err != nil {
			return eris.Wrapf(err, "sink: wipe outdated copy %s", c.UsernameValue)
		}
		delete(matches.Best, username)
		zap.L().Debug("sink: wiped outdated copy",
			zap.String("realm", c.SignonRealm),
			zap.String("username", c.UsernameValue),
		)
	}

	kept := matches.Secondary[:0]
	for _, c := range matches.Secondary {
		if !outdated(c) {
			kept = append(kept, c)
			continue
		}
		if err := s.store.RemoveLogin(ctx, c.Key()); err != nil {
			return eris.Wrapf(err, "sink: wipe outdated copy %s", c.UsernameValue)
		}
	}
	matches.Secondary = kept
	return nil
}
