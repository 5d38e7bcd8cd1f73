package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credengine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS logins (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	preferred         BOOLEAN NOT NULL DEFAULT false,
	blacklisted       BOOLEAN NOT NULL DEFAULT false,
	times_used        INTEGER NOT NULL DEFAULT 0,
	cred_type         TEXT NOT NULL DEFAULT 'manual',
	federation_origin TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	icon_url          TEXT NOT NULL DEFAULT '',
	skip_zero_click   BOOLEAN NOT NULL DEFAULT false,
	other_usernames   JSONB NOT NULL DEFAULT '[]',
	date_created      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(signon_realm, username_value, username_element, password_element)
);

CREATE INDEX IF NOT EXISTS idx_logins_realm ON logins(signon_realm, scheme);
CREATE INDEX IF NOT EXISTS idx_logins_realm_domain ON logins(realm_domain, scheme);

CREATE TABLE IF NOT EXISTS site_stats (
	origin_domain   TEXT NOT NULL,
	username_value  TEXT NOT NULL DEFAULT '',
	dismissal_count INTEGER NOT NULL DEFAULT 0,
	update_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (origin_domain, username_value)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgLoginColumns = `id, signon_realm, origin, action, scheme,
	username_element, username_value, password_element, password_value, submit_element,
	preferred, blacklisted, times_used, cred_type,
	federation_origin, display_name, icon_url, skip_zero_click,
	other_usernames, date_created`

func (s *PostgresStore) GetLogins(ctx context.Context, signonRealm string, scheme model.Scheme) ([]model.StoredCredential, error) {
	var rows pgx.Rows
	var err error
	if scheme == model.SchemeHTML {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgLoginColumns+` FROM logins
			 WHERE scheme = $1 AND (signon_realm = $2 OR realm_domain = $3)
			 ORDER BY date_created, id`,
			scheme.String(), signonRealm, RealmDomain(signonRealm),
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgLoginColumns+` FROM logins
			 WHERE scheme = $1 AND signon_realm = $2
			 ORDER BY date_created, id`,
			scheme.String(), signonRealm,
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get logins %s", signonRealm)
	}
	defer rows.Close()

	var creds []model.StoredCredential
	for rows.Next() {
		c, err := scanPgLogin(rows)
		if err != nil {
			return nil, err
		}
		c.IsPublicSuffixMatch = c.SignonRealm != signonRealm
		creds = append(creds, c)
	}
	return creds, eris.Wrap(rows.Err(), "postgres: get logins iterate")
}

func scanPgLogin(rows pgx.Rows) (model.StoredCredential, error) {
	var c model.StoredCredential
	var scheme, credType string
	var otherJSON []byte

	err := rows.Scan(
		&c.ID, &c.SignonRealm, &c.Origin, &c.Action, &scheme,
		&c.UsernameElement, &c.UsernameValue, &c.PasswordElement, &c.PasswordValue, &c.SubmitElement,
		&c.Preferred, &c.BlacklistedByUser, &c.TimesUsed, &credType,
		&c.FederationOrigin, &c.DisplayName, &c.IconURL, &c.SkipZeroClick,
		&otherJSON, &c.DateCreated,
	)
	if err != nil {
		return c, eris.Wrap(err, "postgres: scan login")
	}
	c.Scheme = model.ParseScheme(scheme)
	c.Type = model.ParseCredentialType(credType)
	if len(otherJSON) > 0 {
		if err := json.Unmarshal(otherJSON, &c.OtherPossibleUsernames); err != nil {
			return c, eris.Wrap(err, "postgres: unmarshal other usernames")
		}
	}
	return c, nil
}

func (s *PostgresStore) AddLogin(ctx context.Context, cred *model.StoredCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.DateCreated.IsZero() {
		cred.DateCreated = time.Now().UTC()
	}
	otherJSON, err := json.Marshal(cred.OtherPossibleUsernames)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal other usernames")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO logins (id, signon_realm, realm_domain, origin, action, scheme,
			username_element, username_value, password_element, password_value, submit_element,
			preferred, blacklisted, times_used, cred_type,
			federation_origin, display_name, icon_url, skip_zero_click,
			other_usernames, date_created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		cred.ID, cred.SignonRealm, RealmDomain(cred.SignonRealm), cred.Origin, cred.Action, cred.Scheme.String(),
		cred.UsernameElement, cred.UsernameValue, cred.PasswordElement, cred.PasswordValue, cred.SubmitElement,
		cred.Preferred, cred.BlacklistedByUser, cred.TimesUsed, cred.Type.String(),
		cred.FederationOrigin, cred.DisplayName, cred.IconURL, cred.SkipZeroClick,
		otherJSON, cred.DateCreated,
	)
	return eris.Wrapf(err, "postgres: add login %s", cred.SignonRealm)
}

func (s *PostgresStore) UpdateLogin(ctx context.Context, cred *model.StoredCredential) error {
	return s.updateByKey(ctx, cred, cred.Key())
}

func (s *PostgresStore) UpdateLoginWithPrimaryKey(ctx context.Context, cred *model.StoredCredential, oldKey model.CredentialKey) error {
	return s.updateByKey(ctx, cred, oldKey)
}

func (s *PostgresStore) updateByKey(ctx context.Context, cred *model.StoredCredential, key model.CredentialKey) error {
	otherJSON, err := json.Marshal(cred.OtherPossibleUsernames)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal other usernames")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE logins SET
			origin = $1, action = $2,
			username_element = $3, username_value = $4, password_element = $5, password_value = $6,
			submit_element = $7, preferred = $8, times_used = $9, cred_type = $10,
			federation_origin = $11, display_name = $12, icon_url = $13, skip_zero_click = $14,
			other_usernames = $15
		 WHERE signon_realm = $16 AND username_value = $17 AND username_element = $18 AND password_element = $19`,
		cred.Origin, cred.Action,
		cred.UsernameElement, cred.UsernameValue, cred.PasswordElement, cred.PasswordValue,
		cred.SubmitElement, cred.Preferred, cred.TimesUsed, cred.Type.String(),
		cred.FederationOrigin, cred.DisplayName, cred.IconURL, cred.SkipZeroClick,
		otherJSON,
		key.SignonRealm, key.UsernameValue, key.UsernameElement, key.PasswordElement,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update login %s", key.SignonRealm)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("login not found: %s/%s", key.SignonRealm, key.UsernameValue)
	}
	return nil
}

func (s *PostgresStore) RemoveLogin(ctx context.Context, key model.CredentialKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM logins
		 WHERE signon_realm = $1 AND username_value = $2 AND username_element = $3 AND password_element = $4`,
		key.SignonRealm, key.UsernameValue, key.UsernameElement, key.PasswordElement,
	)
	return eris.Wrapf(err, "postgres: remove login %s", key.SignonRealm)
}

func (s *PostgresStore) GetSiteStats(ctx context.Context, originDomain string) ([]model.InteractionStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT origin_domain, username_value, dismissal_count, update_time
		 FROM site_stats WHERE origin_domain = $1`,
		originDomain,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get site stats %s", originDomain)
	}
	defer rows.Close()

	var stats []model.InteractionStats
	for rows.Next() {
		var st model.InteractionStats
		if err := rows.Scan(&st.OriginDomain, &st.UsernameValue, &st.DismissalCount, &st.UpdateTime); err != nil {
			return nil, eris.Wrap(err, "postgres: scan site stats")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: get site stats iterate")
}

func (s *PostgresStore) RecordDismissal(ctx context.Context, originDomain, usernameValue string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO site_stats (origin_domain, username_value, dismissal_count, update_time)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (origin_domain, username_value)
		 DO UPDATE SET dismissal_count = site_stats.dismissal_count + 1, update_time = $3`,
		originDomain, usernameValue, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record dismissal %s", originDomain)
}
