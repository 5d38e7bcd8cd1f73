package model

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// CredentialType records how a credential's password came to exist.
type CredentialType int

const (
	// TypeManual is a password typed by the user.
	TypeManual CredentialType = iota
	// TypeGenerated is a password produced by the generation feature.
	TypeGenerated
	// TypeAPI is a credential handed over by the credential management API.
	TypeAPI
)

func (t CredentialType) String() string {
	switch t {
	case TypeManual:
		return "manual"
	case TypeGenerated:
		return "generated"
	case TypeAPI:
		return "api"
	default:
		return "unknown"
	}
}

// ParseCredentialType maps a wire string back to a CredentialType.
// Unrecognized values map to TypeManual.
func ParseCredentialType(s string) CredentialType {
	switch s {
	case "generated":
		return TypeGenerated
	case "api":
		return TypeAPI
	default:
		return TypeManual
	}
}

func (t CredentialType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *CredentialType) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = ParseCredentialType(v)
	return nil
}

func (t CredentialType) MarshalYAML() (any, error) { return t.String(), nil }

func (t *CredentialType) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*t = ParseCredentialType(v)
	return nil
}

// StoredCredential is one row from the credential store. The engine reads
// these during a matching pass and keeps owned copies inside the match set;
// the store remains the owner of the persistent record.
type StoredCredential struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Origin      string `json:"origin" yaml:"origin"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
	SignonRealm string `json:"signon_realm" yaml:"signon_realm"`
	Scheme      Scheme `json:"scheme" yaml:"scheme"`

	UsernameElement string `json:"username_element,omitempty" yaml:"username_element,omitempty"`
	UsernameValue   string `json:"username_value,omitempty" yaml:"username_value,omitempty"`
	PasswordElement string `json:"password_element,omitempty" yaml:"password_element,omitempty"`
	PasswordValue   string `json:"password_value,omitempty" yaml:"password_value,omitempty"`
	SubmitElement   string `json:"submit_element,omitempty" yaml:"submit_element,omitempty"`

	Preferred           bool           `json:"preferred,omitempty" yaml:"preferred,omitempty"`
	IsPublicSuffixMatch bool           `json:"is_public_suffix_match,omitempty" yaml:"is_public_suffix_match,omitempty"`
	BlacklistedByUser   bool           `json:"blacklisted_by_user,omitempty" yaml:"blacklisted_by_user,omitempty"`
	TimesUsed           int            `json:"times_used,omitempty" yaml:"times_used,omitempty"`
	Type                CredentialType `json:"type,omitempty" yaml:"type,omitempty"`

	FederationOrigin string `json:"federation_origin,omitempty" yaml:"federation_origin,omitempty"`
	DisplayName      string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	IconURL          string `json:"icon_url,omitempty" yaml:"icon_url,omitempty"`
	SkipZeroClick    bool   `json:"skip_zero_click,omitempty" yaml:"skip_zero_click,omitempty"`

	OtherPossibleUsernames []string `json:"other_possible_usernames,omitempty" yaml:"other_possible_usernames,omitempty"`

	DateCreated time.Time `json:"date_created,omitempty" yaml:"date_created,omitempty"`
}

// IsFederated reports whether the credential belongs to a federated identity
// provider rather than carrying a password of its own.
func (c *StoredCredential) IsFederated() bool {
	return c.FederationOrigin != ""
}

// Key returns the primary key tuple under which the store indexes this
// credential.
func (c *StoredCredential) Key() CredentialKey {
	return CredentialKey{
		SignonRealm:     c.SignonRealm,
		UsernameValue:   c.UsernameValue,
		UsernameElement: c.UsernameElement,
		PasswordElement: c.PasswordElement,
	}
}

// CredentialKey is the primary key of a stored credential. When a save
// changes any component, the persistence sink needs the old key to perform a
// key-changing update instead of an insert.
type CredentialKey struct {
	SignonRealm     string `json:"signon_realm"`
	UsernameValue   string `json:"username_value"`
	UsernameElement string `json:"username_element"`
	PasswordElement string `json:"password_element"`
}

// InteractionStats aggregates the user's past reactions to save prompts for
// one origin/username pair. Delivered asynchronously by the store alongside
// the credential lookup, in no guaranteed order.
type InteractionStats struct {
	OriginDomain   string    `json:"origin_domain"`
	UsernameValue  string    `json:"username_value"`
	DismissalCount int       `json:"dismissal_count"`
	UpdateTime     time.Time `json:"update_time"`
}
