package model

// MatchSet is the partition of one store lookup's results against one
// observed form. It is rebuilt wholesale every time results arrive; nothing
// ever patches it incrementally.
type MatchSet struct {
	// Best maps username to the highest-scoring non-blacklisted credential
	// for that username. At most one entry per username.
	Best map[string]*StoredCredential

	// Secondary holds every non-blacklisted, non-federated credential that
	// lost the per-username score race. Used to propagate a password change
	// across related rows at update time.
	Secondary []*StoredCredential

	// Blacklisted holds credentials the user marked never-save for this form.
	Blacklisted []*StoredCredential

	// Federated holds credentials owned by a federated identity provider.
	// They never compete for Best.
	Federated []*StoredCredential

	// Preferred is the single globally best-scoring credential, nil when the
	// lookup returned nothing scoreable.
	Preferred *StoredCredential
}

// NewMatchSet returns an empty match set.
func NewMatchSet() *MatchSet {
	return &MatchSet{Best: make(map[string]*StoredCredential)}
}

// Empty reports whether no credential of any kind matched.
func (m *MatchSet) Empty() bool {
	return len(m.Best) == 0 && len(m.Secondary) == 0 &&
		len(m.Blacklisted) == 0 && len(m.Federated) == 0
}

// IsBlacklisted reports whether the observed form has at least one blacklist
// match, i.e. the user asked never to be prompted here.
func (m *MatchSet) IsBlacklisted() bool {
	return len(m.Blacklisted) > 0
}

// BestByPassword returns the first best match carrying the given password,
// or nil. Iteration order is not significant: callers use this only when any
// credential with the password is an acceptable answer.
func (m *MatchSet) BestByPassword(password string) *StoredCredential {
	if password == "" {
		return nil
	}
	for _, c := range m.Best {
		if c.PasswordValue == password {
			return c
		}
	}
	return nil
}

// BestByAlternateUsername returns the first best match listing the given
// value among its other possible usernames, or nil.
func (m *MatchSet) BestByAlternateUsername(username string) *StoredCredential {
	if username == "" {
		return nil
	}
	for _, c := range m.Best {
		for _, alt := range c.OtherPossibleUsernames {
			if alt == username {
				return c
			}
		}
	}
	return nil
}
