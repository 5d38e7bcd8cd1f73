// Package model defines the data types shared by the credential matching
// engine: observed forms, stored credentials, match sets, and the pending
// credential assembled at submission time.
package model

import (
	"encoding/json"
	"net/url"

	"gopkg.in/yaml.v3"
)

// Scheme identifies the authentication surface a form or credential belongs
// to. HTML forms are matched on element fingerprints; the non-interactive
// schemes collapse matching to realm equality.
type Scheme int

const (
	SchemeHTML Scheme = iota
	SchemeBasic
	SchemeDigest
	SchemeOther
)

func (s Scheme) String() string {
	switch s {
	case SchemeHTML:
		return "html"
	case SchemeBasic:
		return "basic"
	case SchemeDigest:
		return "digest"
	case SchemeOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseScheme maps a wire string back to a Scheme. Unrecognized values map
// to SchemeOther.
func ParseScheme(s string) Scheme {
	switch s {
	case "html", "":
		return SchemeHTML
	case "basic":
		return SchemeBasic
	case "digest":
		return SchemeDigest
	default:
		return SchemeOther
	}
}

func (s Scheme) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Scheme) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ParseScheme(v)
	return nil
}

func (s Scheme) MarshalYAML() (any, error) { return s.String(), nil }

func (s *Scheme) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = ParseScheme(v)
	return nil
}

// ObservedForm describes a login, signup, or change-password form as seen by
// the per-frame driver. The same shape is used for the initial observation
// and for the submitted replay; the value fields are empty until submission.
// An ObservedForm held by a tracking unit is never mutated — a fresh
// submission produces fresh data.
type ObservedForm struct {
	Origin      string `json:"origin" yaml:"origin"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
	SignonRealm string `json:"signon_realm" yaml:"signon_realm"`
	Scheme      Scheme `json:"scheme" yaml:"scheme"`

	UsernameElement    string `json:"username_element,omitempty" yaml:"username_element,omitempty"`
	PasswordElement    string `json:"password_element,omitempty" yaml:"password_element,omitempty"`
	NewPasswordElement string `json:"new_password_element,omitempty" yaml:"new_password_element,omitempty"`
	SubmitElement      string `json:"submit_element,omitempty" yaml:"submit_element,omitempty"`

	UsernameValue    string `json:"username_value,omitempty" yaml:"username_value,omitempty"`
	PasswordValue    string `json:"password_value,omitempty" yaml:"password_value,omitempty"`
	NewPasswordValue string `json:"new_password_value,omitempty" yaml:"new_password_value,omitempty"`

	OtherPossibleUsernames []string `json:"other_possible_usernames,omitempty" yaml:"other_possible_usernames,omitempty"`

	Preferred            bool           `json:"preferred,omitempty" yaml:"preferred,omitempty"`
	IsChangePasswordForm bool           `json:"is_change_password_form,omitempty" yaml:"is_change_password_form,omitempty"`
	IsSignupForm         bool           `json:"is_signup_form,omitempty" yaml:"is_signup_form,omitempty"`
	ParsedWithPredictions bool          `json:"parsed_with_predictions,omitempty" yaml:"parsed_with_predictions,omitempty"`
	Type                 CredentialType `json:"type,omitempty" yaml:"type,omitempty"`

	// API-sourced submissions carry these verbatim into the pending record.
	FederationOrigin string `json:"federation_origin,omitempty" yaml:"federation_origin,omitempty"`
	DisplayName      string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	IconURL          string `json:"icon_url,omitempty" yaml:"icon_url,omitempty"`
	SkipZeroClick    bool   `json:"skip_zero_click,omitempty" yaml:"skip_zero_click,omitempty"`
}

// PasswordToSave picks the value the pending credential should carry: the
// new-password value when the form has a populated new-password field,
// otherwise the plain password value.
func (f *ObservedForm) PasswordToSave() string {
	if f.NewPasswordElement == "" || f.NewPasswordValue == "" {
		return f.PasswordValue
	}
	return f.NewPasswordValue
}

// LooksLikePasswordUpdate reports whether the submission plausibly updates an
// existing credential rather than creating one: a change-password form, or a
// form with no username field at all.
func (f *ObservedForm) LooksLikePasswordUpdate() bool {
	return f.IsChangePasswordForm || f.UsernameElement == ""
}

// OriginURL parses the form origin. Returns nil for unparsable origins.
func (f *ObservedForm) OriginURL() *url.URL {
	u, err := url.Parse(f.Origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}
