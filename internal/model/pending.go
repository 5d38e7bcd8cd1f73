package model

// UserAction classifies what the user did relative to the autofilled
// default before submitting.
type UserAction int

const (
	// UserActionNone: the default fill was submitted untouched.
	UserActionNone UserAction = iota
	// UserActionChoose: a stored, non-default credential was chosen.
	UserActionChoose
	// UserActionChoosePSL: a public-suffix match was accepted for this origin.
	UserActionChoosePSL
	// UserActionOverridePassword: the stored password was replaced.
	UserActionOverridePassword
	// UserActionOverrideUsernameAndPassword: both fields were typed fresh.
	UserActionOverrideUsernameAndPassword
)

func (a UserAction) String() string {
	switch a {
	case UserActionNone:
		return "none"
	case UserActionChoose:
		return "choose"
	case UserActionChoosePSL:
		return "choose-psl"
	case UserActionOverridePassword:
		return "override-password"
	case UserActionOverrideUsernameAndPassword:
		return "override-username-and-password"
	default:
		return "unknown"
	}
}

// PendingCredential is the working record assembled by the pending-credential
// builder at submission time. It is mutated freely while the decision tree
// runs and is the single object handed to the persistence sink once the
// submission is judged successful.
type PendingCredential struct {
	StoredCredential

	// IsNewLogin is true when persisting means inserting a new row rather
	// than updating an existing one.
	IsNewLogin bool

	// PasswordOverridden is true when the submission carried a password
	// different from the stored match's.
	PasswordOverridden bool

	// UserAction records how far the user deviated from the autofill default.
	UserAction UserAction

	// RetryPasswordUpdate is true when the submitted form was a bare
	// password-only form, i.e. a retry or update of an existing credential.
	RetryPasswordUpdate bool
}

// FailureReason enumerates why a submission was dropped without persisting.
// Recorded for diagnostics, never surfaced as an error.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureSavingDisabled
	FailureEmptyPassword
	FailureNoMatchingForm
	FailureMatchingNotComplete
	FailureFormBlacklisted
	FailureMalformedForm
	FailureSyncCredentialExcluded
	FailurePromptSuppressed
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureSavingDisabled:
		return "saving-disabled"
	case FailureEmptyPassword:
		return "empty-password"
	case FailureNoMatchingForm:
		return "no-matching-form"
	case FailureMatchingNotComplete:
		return "matching-not-complete"
	case FailureFormBlacklisted:
		return "form-blacklisted"
	case FailureMalformedForm:
		return "malformed-form"
	case FailureSyncCredentialExcluded:
		return "sync-credential-excluded"
	case FailurePromptSuppressed:
		return "prompt-suppressed"
	default:
		return "unknown"
	}
}
