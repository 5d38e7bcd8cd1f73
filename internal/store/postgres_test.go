package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credengine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

var pgLoginColumnList = []string{
	"id", "signon_realm", "origin", "action", "scheme",
	"username_element", "username_value", "password_element", "password_value", "submit_element",
	"preferred", "blacklisted", "times_used", "cred_type",
	"federation_origin", "display_name", "icon_url", "skip_zero_click",
	"other_usernames", "date_created",
}

// anyArgs returns n pgxmock.AnyArg matchers, for expectations that do not
// care about individual argument values.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func pgLoginRow(rows *pgxmock.Rows, id, realm, username string) *pgxmock.Rows {
	return rows.AddRow(
		id, realm, realm+"login", realm+"login", "html",
		"Email", username, "Passwd", "secret", "",
		true, false, 2, "manual",
		"", "", "", false,
		[]byte(`["`+username+`@example.com"]`), time.Now().UTC(),
	)
}

func TestPostgresStore_GetLogins_FlagsRelatedDomain(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(pgLoginColumnList)
	rows = pgLoginRow(rows, "id-1", "https://www.example.com/", "alice")
	rows = pgLoginRow(rows, "id-2", "https://accounts.example.com/", "bob")

	mock.ExpectQuery(`FROM logins`).
		WithArgs("html", "https://www.example.com/", "example.com").
		WillReturnRows(rows)

	got, err := s.GetLogins(context.Background(), "https://www.example.com/", model.SchemeHTML)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.False(t, got[0].IsPublicSuffixMatch)
	assert.True(t, got[1].IsPublicSuffixMatch)
	assert.Equal(t, []string{"alice@example.com"}, got[0].OtherPossibleUsernames)
	assert.Equal(t, model.TypeManual, got[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLogins_NonHTMLExactRealm(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM logins`).
		WithArgs("basic", "http://www.example.com/Secure Area").
		WillReturnRows(pgxmock.NewRows(pgLoginColumnList))

	got, err := s.GetLogins(context.Background(), "http://www.example.com/Secure Area", model.SchemeBasic)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddLogin(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO logins`).
		WithArgs(anyArgs(21)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cred := &model.StoredCredential{
		Origin:      "https://www.example.com/login",
		SignonRealm: "https://www.example.com/",
		Scheme:      model.SchemeHTML,
	}
	require.NoError(t, s.AddLogin(context.Background(), cred))
	assert.NotEmpty(t, cred.ID)
	assert.False(t, cred.DateCreated.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLogin_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE logins SET`).
		WithArgs(anyArgs(19)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	cred := &model.StoredCredential{
		SignonRealm:   "https://www.example.com/",
		UsernameValue: "nobody",
	}
	err := s.UpdateLogin(context.Background(), cred)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLoginWithPrimaryKey_UsesOldKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE logins SET`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			"https://www.example.com/", "alice", "Email", "Passwd",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	cred := &model.StoredCredential{
		SignonRealm:     "https://www.example.com/",
		UsernameValue:   "alice@example.com",
		UsernameElement: "Email",
		PasswordElement: "Passwd",
	}
	oldKey := model.CredentialKey{
		SignonRealm:     "https://www.example.com/",
		UsernameValue:   "alice",
		UsernameElement: "Email",
		PasswordElement: "Passwd",
	}
	require.NoError(t, s.UpdateLoginWithPrimaryKey(context.Background(), cred, oldKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RemoveLogin(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM logins`).
		WithArgs("https://www.example.com/", "alice", "Email", "Passwd").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	key := model.CredentialKey{
		SignonRealm:     "https://www.example.com/",
		UsernameValue:   "alice",
		UsernameElement: "Email",
		PasswordElement: "Passwd",
	}
	require.NoError(t, s.RemoveLogin(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDismissal_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("example.com", "alice", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordDismissal(context.Background(), "example.com", "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSiteStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"origin_domain", "username_value", "dismissal_count", "update_time"}).
		AddRow("example.com", "alice", 3, time.Now().UTC())

	mock.ExpectQuery(`FROM site_stats`).
		WithArgs("example.com").
		WillReturnRows(rows)

	stats, err := s.GetSiteStats(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].DismissalCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
