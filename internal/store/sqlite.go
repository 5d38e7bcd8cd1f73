package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credengine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One connection: SQLite serializes writers anyway, and :memory:
	// databases are per connection.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS logins (
	id                TEXT PRIMARY KEY,
	signon_realm      TEXT NOT NULL,
	realm_domain      TEXT NOT NULL DEFAULT '',
	origin            TEXT NOT NULL,
	action            TEXT NOT NULL DEFAULT '',
	scheme            TEXT NOT NULL DEFAULT 'html',
	username_element  TEXT NOT NULL DEFAULT '',
	username_value    TEXT NOT NULL DEFAULT '',
	password_element  TEXT NOT NULL DEFAULT '',
	password_value    TEXT NOT NULL DEFAULT '',
	submit_element    TEXT NOT NULL DEFAULT '',
	preferred         INTEGER NOT NULL DEFAULT 0,
	blacklisted       INTEGER NOT NULL DEFAULT 0,
	times_used        INTEGER NOT NULL DEFAULT 0,
	cred_type         TEXT NOT NULL DEFAULT 'manual',
	federation_origin TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	icon_url          TEXT NOT NULL DEFAULT '',
	skip_zero_click   INTEGER NOT NULL DEFAULT 0,
	other_usernames   TEXT NOT NULL DEFAULT '[]',
	date_created      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(signon_realm, username_value, username_element, password_element)
);

CREATE INDEX IF NOT EXISTS idx_logins_realm ON logins(signon_realm, scheme);
CREATE INDEX IF NOT EXISTS idx_logins_realm_domain ON logins(realm_domain, scheme);

CREATE TABLE IF NOT EXISTS site_stats (
	origin_domain   TEXT NOT NULL,
	username_value  TEXT NOT NULL DEFAULT '',
	dismissal_count INTEGER NOT NULL DEFAULT 0,
	update_time     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (origin_domain, username_value)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const loginColumns = `id, signon_realm, origin, action, scheme,
	username_element, username_value, password_element, password_value, submit_element,
	preferred, blacklisted, times_used, cred_type,
	federation_origin, display_name, icon_url, skip_zero_click,
	other_usernames, date_created`

func (s *SQLiteStore) GetLogins(ctx context.Context, signonRealm string, scheme model.Scheme) ([]model.StoredCredential, error) {
	var rows *sql.Rows
	var err error
	if scheme == model.SchemeHTML {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+loginColumns+` FROM logins
			 WHERE scheme = ? AND (signon_realm = ? OR realm_domain = ?)
			 ORDER BY date_created, id`,
			scheme.String(), signonRealm, RealmDomain(signonRealm),
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+loginColumns+` FROM logins
			 WHERE scheme = ? AND signon_realm = ?
			 ORDER BY date_created, id`,
			scheme.String(), signonRealm,
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get logins %s", signonRealm)
	}
	defer rows.Close()

	var creds []model.StoredCredential
	for rows.Next() {
		c, err := scanLogin(rows)
		if err != nil {
			return nil, err
		}
		c.IsPublicSuffixMatch = c.SignonRealm != signonRealm
		creds = append(creds, c)
	}
	return creds, eris.Wrap(rows.Err(), "sqlite: get logins iterate")
}

func (s *SQLiteStore) AddLogin(ctx context.Context, cred *model.StoredCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.DateCreated.IsZero() {
		cred.DateCreated = time.Now().UTC()
	}
	otherJSON, err := json.Marshal(cred.OtherPossibleUsernames)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal other usernames")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logins (id, signon_realm, realm_domain, origin, action, scheme,
			username_element, username_value, password_element, password_value, submit_element,
			preferred, blacklisted, times_used, cred_type,
			federation_origin, display_name, icon_url, skip_zero_click,
			other_usernames, date_created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.SignonRealm, RealmDomain(cred.SignonRealm), cred.Origin, cred.Action, cred.Scheme.String(),
		cred.UsernameElement, cred.UsernameValue, cred.PasswordElement, cred.PasswordValue, cred.SubmitElement,
		boolToInt(cred.Preferred), boolToInt(cred.BlacklistedByUser), cred.TimesUsed, cred.Type.String(),
		cred.FederationOrigin, cred.DisplayName, cred.IconURL, boolToInt(cred.SkipZeroClick),
		string(otherJSON), cred.DateCreated,
	)
	return eris.Wrapf(err, "sqlite: add login %s", cred.SignonRealm)
}

func (s *SQLiteStore) UpdateLogin(ctx context.Context, cred *model.StoredCredential) error {
	return s.updateByKey(ctx, cred, cred.Key())
}

func (s *SQLiteStore) UpdateLoginWithPrimaryKey(ctx context.Context, cred *model.StoredCredential, oldKey model.CredentialKey) error {
	return s.updateByKey(ctx, cred, oldKey)
}

func (s *SQLiteStore) updateByKey(ctx context.Context, cred *model.StoredCredential, key model.CredentialKey) error {
	otherJSON, err := json.Marshal(cred.OtherPossibleUsernames)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal other usernames")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE logins SET
			origin = ?, action = ?,
			username_element = ?, username_value = ?, password_element = ?, password_value = ?,
			submit_element = ?, preferred = ?, times_used = ?, cred_type = ?,
			federation_origin = ?, display_name = ?, icon_url = ?, skip_zero_click = ?,
			other_usernames = ?
		 WHERE signon_realm = ? AND username_value = ? AND username_element = ? AND password_element = ?`,
		cred.Origin, cred.Action,
		cred.UsernameElement, cred.UsernameValue, cred.PasswordElement, cred.PasswordValue,
		cred.SubmitElement, boolToInt(cred.Preferred), cred.TimesUsed, cred.Type.String(),
		cred.FederationOrigin, cred.DisplayName, cred.IconURL, boolToInt(cred.SkipZeroClick),
		string(otherJSON),
		key.SignonRealm, key.UsernameValue, key.UsernameElement, key.PasswordElement,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update login %s", key.SignonRealm)
	}
	return checkRowsAffected(res, "login", key.SignonRealm+"/"+key.UsernameValue)
}

func (s *SQLiteStore) RemoveLogin(ctx context.Context, key model.CredentialKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM logins
		 WHERE signon_realm = ? AND username_value = ? AND username_element = ? AND password_element = ?`,
		key.SignonRealm, key.UsernameValue, key.UsernameElement, key.PasswordElement,
	)
	return eris.Wrapf(err, "sqlite: remove login %s", key.SignonRealm)
}

func (s *SQLiteStore) GetSiteStats(ctx context.Context, originDomain string) ([]model.InteractionStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT origin_domain, username_value, dismissal_count, update_time
		 FROM site_stats WHERE origin_domain = ?`,
		originDomain,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get site stats %s", originDomain)
	}
	defer rows.Close()

	var stats []model.InteractionStats
	for rows.Next() {
		var st model.InteractionStats
		if err := rows.Scan(&st.OriginDomain, &st.UsernameValue, &st.DismissalCount, &st.UpdateTime); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan site stats")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: get site stats iterate")
}

func (s *SQLiteStore) RecordDismissal(ctx context.Context, originDomain, usernameValue string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO site_stats (origin_domain, username_value, dismissal_count, update_time)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (origin_domain, username_value)
		 DO UPDATE SET dismissal_count = dismissal_count + 1, update_time = excluded.update_time`,
		originDomain, usernameValue, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record dismissal %s", originDomain)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLogin(row scannable) (model.StoredCredential, error) {
	var c model.StoredCredential
	var scheme, credType, otherJSON string
	var preferred, blacklisted, skipZeroClick int

	err := row.Scan(
		&c.ID, &c.SignonRealm, &c.Origin, &c.Action, &scheme,
		&c.UsernameElement, &c.UsernameValue, &c.PasswordElement, &c.PasswordValue, &c.SubmitElement,
		&preferred, &blacklisted, &c.TimesUsed, &credType,
		&c.FederationOrigin, &c.DisplayName, &c.IconURL, &skipZeroClick,
		&otherJSON, &c.DateCreated,
	)
	if err != nil {
		return c, eris.Wrap(err, "sqlite: scan login")
	}
	c.Scheme = model.ParseScheme(scheme)
	c.Type = model.ParseCredentialType(credType)
	c.Preferred = preferred != 0
	c.BlacklistedByUser = blacklisted != 0
	c.SkipZeroClick = skipZeroClick != 0
	if otherJSON != "" && otherJSON != "[]" && otherJSON != "null" {
		if err := json.Unmarshal([]byte(otherJSON), &c.OtherPossibleUsernames); err != nil {
			return c, eris.Wrap(err, "sqlite: unmarshal other usernames")
		}
	}
	return c, nil
}
