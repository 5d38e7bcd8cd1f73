// Package engine owns the per-form tracking units, the asynchronous store
// fetch lifecycle, the pending-credential decision tree, and the save
// decision policy. The embedding shell drives it with form notifications and
// supplies the collaborators declared here.
package engine

import (
	"context"

	"github.com/sells-group/credengine/internal/model"
)

// StoreFetcher is the read side of the credential store. Zero results is a
// valid outcome; an error is treated as zero results, never as fatal.
type StoreFetcher interface {
	GetLogins(ctx context.Context, signonRealm string, scheme model.Scheme) ([]model.StoredCredential, error)
	GetSiteStats(ctx context.Context, originDomain string) ([]model.InteractionStats, error)
}

// FormSaver is the persistence sink for decided credentials.
type FormSaver interface {
	// Save inserts a brand-new credential.
	Save(ctx context.Context, pending *model.PendingCredential, best map[string]*model.StoredCredential) error

	// Update rewrites an existing credential, along with related rows whose
	// password should change in lockstep. A non-nil oldKey requests a
	// key-changing update.
	Update(ctx context.Context, pending *model.PendingCredential, best map[string]*model.StoredCredential,
		toUpdate []model.StoredCredential, oldKey *model.CredentialKey) error

	// PermanentlyBlacklist records a never-save entry for the observed form.
	PermanentlyBlacklist(ctx context.Context, observed *model.ObservedForm) (*model.StoredCredential, error)

	// WipeOutdatedCopies removes stored copies of the pending credential
	// kept under alternate usernames with a now-outdated password. The match
	// set is fixed up in place.
	WipeOutdatedCopies(ctx context.Context, pending *model.PendingCredential, matches *model.MatchSet) error
}

// PromptRequest is handed to the client when the engine needs the user to
// confirm a save or update.
type PromptRequest struct {
	UnitID   string                  `json:"unit_id"`
	Pending  model.PendingCredential `json:"pending"`
	IsUpdate bool                    `json:"is_update"`
}

// Client supplies policy decisions and user-facing prompts.
type Client interface {
	IsSavingEnabled(origin string) bool
	IsFillingEnabled(origin string) bool
	IsUpdatePasswordUIEnabled() bool
	IsOffTheRecord() bool

	// ShouldSave vetoes credentials the sync policy never offers to save.
	ShouldSave(cred *model.StoredCredential) bool

	// PromptToSaveOrUpdate asks the user. The return value reports whether a
	// prompt was actually shown; the answer itself arrives later through
	// Engine.ResolvePrompt.
	PromptToSaveOrUpdate(req PromptRequest) bool

	// NotifyAutoSavedGeneratedPassword surfaces the "generated password was
	// saved for you" notification.
	NotifyAutoSavedGeneratedPassword(cred *model.StoredCredential)
}

// FillData is everything the per-frame driver needs to offer autofill.
type FillData struct {
	Form            model.ObservedForm                 `json:"form"`
	Best            map[string]*model.StoredCredential `json:"best"`
	Federated       []*model.StoredCredential          `json:"federated,omitempty"`
	Preferred       *model.StoredCredential            `json:"preferred,omitempty"`
	WaitForUsername bool                               `json:"wait_for_username"`
}

// Driver is the per-frame collaborator that renders fills and enables
// password generation.
type Driver interface {
	Fill(data FillData)
	AllowGeneration(form model.ObservedForm)
}
