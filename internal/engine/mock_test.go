package engine

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/credengine/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetLogins(ctx context.Context, signonRealm string, scheme model.Scheme) ([]model.StoredCredential, error) {
	args := m.Called(ctx, signonRealm, scheme)
	var creds []model.StoredCredential
	if v := args.Get(0); v != nil {
		creds = v.([]model.StoredCredential)
	}
	return creds, args.Error(1)
}

func (m *mockStore) GetSiteStats(ctx context.Context, originDomain string) ([]model.InteractionStats, error) {
	args := m.Called(ctx, originDomain)
	var stats []model.InteractionStats
	if v := args.Get(0); v != nil {
		stats = v.([]model.InteractionStats)
	}
	return stats, args.Error(1)
}

// fakeSaver records every persistence call for inspection.
type fakeSaver struct {
	saved       []model.PendingCredential
	updated     []model.PendingCredential
	related     [][]model.StoredCredential
	oldKeys     []*model.CredentialKey
	wiped       []model.PendingCredential
	blacklisted []model.ObservedForm

	saveErr error
}

func (s *fakeSaver) Save(ctx context.Context, pending *model.PendingCredential, best map[string]*model.StoredCredential) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *pending)
	return nil
}

func (s *fakeSaver) Update(ctx context.Context, pending *model.PendingCredential, best map[string]*model.StoredCredential,
	toUpdate []model.StoredCredential, oldKey *model.CredentialKey) error {
	s.updated = append(s.updated, *pending)
	s.related = append(s.related, toUpdate)
	s.oldKeys = append(s.oldKeys, oldKey)
	return nil
}

func (s *fakeSaver) PermanentlyBlacklist(ctx context.Context, observed *model.ObservedForm) (*model.StoredCredential, error) {
	s.blacklisted = append(s.blacklisted, *observed)
	return &model.StoredCredential{
		Origin:            observed.Origin,
		SignonRealm:       observed.SignonRealm,
		Scheme:            observed.Scheme,
		BlacklistedByUser: true,
	}, nil
}

func (s *fakeSaver) WipeOutdatedCopies(ctx context.Context, pending *model.PendingCredential, matches *model.MatchSet) error {
	s.wiped = append(s.wiped, *pending)
	return nil
}

// fakeClient answers policy questions from fields and records prompts.
type fakeClient struct {
	savingDisabled   bool
	fillingDisabled  bool
	updateUIDisabled bool
	offTheRecord     bool
	vetoSave         bool
	noPromptSurface  bool

	prompts  []PromptRequest
	notified []model.StoredCredential
}

func (c *fakeClient) IsSavingEnabled(origin string) bool  { return !c.savingDisabled }
func (c *fakeClient) IsFillingEnabled(origin string) bool { return !c.fillingDisabled }
func (c *fakeClient) IsUpdatePasswordUIEnabled() bool     { return !c.updateUIDisabled }
func (c *fakeClient) IsOffTheRecord() bool                { return c.offTheRecord }

func (c *fakeClient) ShouldSave(cred *model.StoredCredential) bool { return !c.vetoSave }

func (c *fakeClient) PromptToSaveOrUpdate(req PromptRequest) bool {
	if c.noPromptSurface {
		return false
	}
	c.prompts = append(c.prompts, req)
	return true
}

func (c *fakeClient) NotifyAutoSavedGeneratedPassword(cred *model.StoredCredential) {
	c.notified = append(c.notified, *cred)
}

// fakeDriver records fill and generation signals.
type fakeDriver struct {
	fills      []FillData
	generation []model.ObservedForm
}

func (d *fakeDriver) Fill(data FillData)                    { d.fills = append(d.fills, data) }
func (d *fakeDriver) AllowGeneration(form model.ObservedForm) { d.generation = append(d.generation, form) }

// taskQueue defers the engine's async dispatches until pumped, making store
// result delivery explicit in tests.
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) enqueue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, fn)
}

func (q *taskQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}

func (q *taskQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// harness bundles an engine with its fakes.
type harness struct {
	store  *mockStore
	saver  *fakeSaver
	client *fakeClient
	driver *fakeDriver
	queue  *taskQueue
	eng    *Engine
}

func newHarness(opts Options) *harness {
	h := &harness{
		store:  &mockStore{},
		saver:  &fakeSaver{},
		client: &fakeClient{},
		driver: &fakeDriver{},
		queue:  &taskQueue{},
	}
	opts.RunAsync = h.queue.enqueue
	h.eng = New(h.store, h.saver, h.client, h.driver, opts)
	return h
}

// expectEmptyStore stubs both store reads with zero results.
func (h *harness) expectEmptyStore() {
	h.store.On("GetLogins", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	h.store.On("GetSiteStats", mock.Anything, mock.Anything).Return(nil, nil)
}

// expectLogins stubs the store with a fixed result set.
func (h *harness) expectLogins(creds []model.StoredCredential) {
	h.store.On("GetLogins", mock.Anything, mock.Anything, mock.Anything).Return(creds, nil)
	h.store.On("GetSiteStats", mock.Anything, mock.Anything).Return(nil, nil)
}

func observedLoginForm() model.ObservedForm {
	return model.ObservedForm{
		Origin:          "https://www.example.com/login",
		Action:          "https://www.example.com/login",
		SignonRealm:     "https://www.example.com/",
		Scheme:          model.SchemeHTML,
		UsernameElement: "Email",
		PasswordElement: "Passwd",
	}
}

func savedCredential(username, password string) model.StoredCredential {
	return model.StoredCredential{
		ID:              "cred-" + username,
		Origin:          "https://www.example.com/login",
		Action:          "https://www.example.com/login",
		SignonRealm:     "https://www.example.com/",
		Scheme:          model.SchemeHTML,
		UsernameElement: "Email",
		UsernameValue:   username,
		PasswordElement: "Passwd",
		PasswordValue:   password,
		Preferred:       true,
	}
}

func submittedForm(username, password string) model.ObservedForm {
	f := observedLoginForm()
	f.UsernameValue = username
	f.PasswordValue = password
	return f
}
