package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credengine/internal/model"
)

func TestSubmissionDropReasons(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		form   func() model.ObservedForm
		reason model.FailureReason
	}{
		{
			name:   "saving disabled",
			setup:  func(h *harness) { h.client.savingDisabled = true },
			form:   func() model.ObservedForm { return submittedForm("alice", "secret") },
			reason: model.FailureSavingDisabled,
		},
		{
			name:  "malformed origin",
			setup: func(h *harness) {},
			form: func() model.ObservedForm {
				f := submittedForm("alice", "secret")
				f.Origin = "not a url"
				return f
			},
			reason: model.FailureMalformedForm,
		},
		{
			name:  "empty password",
			setup: func(h *harness) {},
			form: func() model.ObservedForm {
				f := submittedForm("alice", "")
				return f
			},
			reason: model.FailureEmptyPassword,
		},
		{
			name:   "no tracked form",
			setup:  func(h *harness) {},
			form:   func() model.ObservedForm { return submittedForm("alice", "secret") },
			reason: model.FailureNoMatchingForm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{})
			tt.setup(h)
			got := h.eng.OnFormSubmitted(context.Background(), tt.form())
			assert.Equal(t, tt.reason, got)
		})
	}
}

func TestFederatedSubmissionSkipsPasswordCheck(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	h.eng.OnFormsParsed(context.Background(), []model.ObservedForm{observedLoginForm()})
	h.queue.pump()

	f := submittedForm("alice", "")
	f.FederationOrigin = "https://idp.example.org"
	got := h.eng.OnFormSubmitted(context.Background(), f)
	assert.Equal(t, model.FailureNone, got)
}

func TestSubmitMovesUnitToProvisionalSlot(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()

	got := h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))
	require.Equal(t, model.FailureNone, got)

	units := h.eng.Units()
	require.Len(t, units, 1)
	assert.True(t, units[0].Provisional)
}

func TestSubmitPrefersExactMatch(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	exact := observedLoginForm()
	actionless := observedLoginForm()
	actionless.Action = "https://www.example.com/different"

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{actionless, exact})
	h.queue.pump()

	got := h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))
	require.Equal(t, model.FailureNone, got)

	units := h.eng.Units()
	require.Len(t, units, 2)
	provisional := units[len(units)-1]
	require.True(t, provisional.Provisional)
	// The remaining non-provisional unit is the action-mismatched one.
	assert.False(t, units[0].Provisional)
}

func TestSubmitOriginOnlyMatchRequiresSignupForm(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	tracked := observedLoginForm()
	h.eng.OnFormsParsed(ctx, []model.ObservedForm{tracked})
	h.queue.pump()

	// Same origin, different elements and action: only a signup form may
	// claim the unit.
	login := submittedForm("alice", "secret")
	login.UsernameElement = "user_id"
	login.PasswordElement = "pass"
	login.Action = "https://www.example.com/elsewhere"
	assert.Equal(t, model.FailureNoMatchingForm, h.eng.OnFormSubmitted(ctx, login))

	signup := login
	signup.IsSignupForm = true
	assert.Equal(t, model.FailureNone, h.eng.OnFormSubmitted(ctx, signup))
}

func TestDeferredSubmitBuildsPendingWhenReady(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	// Submission lands before the store answers.
	got := h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))
	require.Equal(t, model.FailureNone, got)

	h.eng.OnFormsRendered(ctx, nil, true)
	assert.Empty(t, h.client.prompts)

	h.queue.pump()

	// Pending was built on readiness and the deferred verdict ran.
	require.Len(t, h.client.prompts, 1)
	assert.True(t, h.client.prompts[0].Pending.IsNewLogin)
}

func TestSubmissionJudgedFailedWhenFormReappears(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))

	reappeared := observedLoginForm()
	h.eng.OnFormsRendered(ctx, []model.ObservedForm{reappeared}, true)

	assert.Empty(t, h.client.prompts)
	assert.Empty(t, h.saver.saved)
	assert.Empty(t, h.eng.Units())
}

func TestSubmissionFailureDetectsHTTPSUpgrade(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	tracked := observedLoginForm()
	tracked.Origin = "http://www.example.com/login"
	tracked.Action = "http://www.example.com/login"
	h.eng.OnFormsParsed(ctx, []model.ObservedForm{tracked})
	h.queue.pump()

	submitted := tracked
	submitted.UsernameValue = "alice"
	submitted.PasswordValue = "secret"
	h.eng.OnFormSubmitted(ctx, submitted)

	upgraded := observedLoginForm()
	h.eng.OnFormsRendered(ctx, []model.ObservedForm{upgraded}, true)

	assert.Empty(t, h.client.prompts)
	assert.Empty(t, h.saver.saved)
}

func TestSubmissionSucceedsWhenFormGone(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))

	welcome := model.ObservedForm{
		Origin:      "https://www.example.com/welcome",
		Action:      "https://www.example.com/search",
		SignonRealm: "https://www.example.com/",
		Scheme:      model.SchemeHTML,
	}
	h.eng.OnFormsRendered(ctx, []model.ObservedForm{welcome}, true)

	require.Len(t, h.client.prompts, 1)
	assert.True(t, h.client.prompts[0].Pending.IsNewLogin)
}

func TestRenderedFormsAccumulateUntilLoadStops(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))

	// The login form reappears mid-load; no verdict yet.
	h.eng.OnFormsRendered(ctx, []model.ObservedForm{observedLoginForm()}, false)
	assert.Len(t, h.eng.Units(), 1)

	h.eng.OnFormsRendered(ctx, nil, true)
	assert.Empty(t, h.client.prompts)
	assert.Empty(t, h.eng.Units())
}

func TestNavigationDropsUnitsButKeepsPrompts(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))
	h.eng.OnFormsRendered(ctx, nil, true)
	require.Len(t, h.client.prompts, 1)

	h.eng.DidNavigateMainFrame()
	assert.Empty(t, h.eng.Units())

	// The prompt survives the navigation and can still be accepted.
	err := h.eng.ResolvePrompt(ctx, h.client.prompts[0].UnitID, true)
	require.NoError(t, err)
	assert.Len(t, h.saver.saved, 1)
}

func TestGeneratedPasswordSavedSilently(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	form := observedLoginForm()
	form.IsSignupForm = true
	h.eng.OnFormsParsed(ctx, []model.ObservedForm{form})
	h.queue.pump()

	h.eng.OnGeneratedPasswordAccepted(form)
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "generated-pw"))
	h.eng.OnFormsRendered(ctx, nil, true)

	assert.Empty(t, h.client.prompts)
	require.Len(t, h.saver.saved, 1)
	assert.Equal(t, model.TypeGenerated, h.saver.saved[0].Type)
	require.Len(t, h.client.notified, 1)
	assert.Equal(t, "generated-pw", h.client.notified[0].PasswordValue)
}

func TestPermanentlyBlacklist(t *testing.T) {
	h := newHarness(Options{})
	h.expectEmptyStore()
	ctx := context.Background()

	h.eng.OnFormsParsed(ctx, []model.ObservedForm{observedLoginForm()})
	h.queue.pump()

	unitID := h.eng.Units()[0].ID
	require.NoError(t, h.eng.PermanentlyBlacklist(ctx, unitID))
	require.Len(t, h.saver.blacklisted, 1)
	assert.True(t, h.eng.Units()[0].Blacklisted)

	// A later successful submission is dropped without prompting.
	h.eng.OnFormSubmitted(ctx, submittedForm("alice", "secret"))
	h.eng.OnFormsRendered(ctx, nil, true)
	assert.Empty(t, h.client.prompts)
	assert.Empty(t, h.saver.saved)

	assert.Error(t, h.eng.PermanentlyBlacklist(ctx, "no-such-unit"))
}
