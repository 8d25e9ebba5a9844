package cli

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/storage/sqlitetest"
)

type cliFixture struct {
	db  *sql.DB
	env *Env
	out *bytes.Buffer
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	db := sqlitetest.NewDB(t)
	out := &bytes.Buffer{}
	return &cliFixture{
		db:  db,
		out: out,
		env: &Env{
			Out:  out,
			Open: func(ctx context.Context) (*sql.DB, error) { return db, nil },
		},
	}
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	f.out.Reset()
	err := NewRootCommand(f.env).Execute(context.Background(), args, f.out)
	return f.out.String(), err
}

func TestSeedCommand(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 3 roles")
	assert.Contains(t, out, "10 modules")

	// Idempotent.
	_, err = f.run(t, "seed")
	require.NoError(t, err)

	var roles, modules int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM roles`).Scan(&roles))
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM modules`).Scan(&modules))
	assert.Equal(t, 3, roles)
	assert.Equal(t, 10, modules)
}

func TestSeedCommand_CatalogFile(t *testing.T) {
	f := newCLIFixture(t)

	path := filepath.Join(t.TempDir(), "modules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  - key: pos
    name: Point of Sale
    active: true
  - key: crm
    name: CRM
    active: false
`), 0o600))

	out, err := f.run(t, "seed", "--catalog", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 modules")

	_, err = f.run(t, "seed", "--catalog", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestUserCommands(t *testing.T) {
	f := newCLIFixture(t)
	ctx := context.Background()
	users := auth.NewUserStore(f.db)

	out, err := f.run(t, "create-user", "--name", "Ada", "--email", "Ada@Example.com", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")

	user, err := users.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, user.GlobalAdmin)

	_, err = f.run(t, "grant-admin", "--email", "ada@example.com", "--revoke")
	require.NoError(t, err)
	user, err = users.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, user.GlobalAdmin)

	out, err = f.run(t, "create-token", "--email", "ada@example.com", "--name", "deploy", "--ttl", "24h")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(token, auth.TokenPrefix))

	tokens := auth.NewTokenManager(f.db)
	validated, err := tokens.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, validated.UserID)
	require.NotNil(t, validated.ExpiresAt)

	_, err = f.run(t, "block-user", "--email", "ada@example.com")
	require.NoError(t, err)
	user, err = users.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, user.Blocked)
	_, err = tokens.ValidateToken(ctx, token)
	assert.Error(t, err, "blocking revokes tokens")

	out, err = f.run(t, "block-user", "--email", "ada@example.com", "--unblock")
	require.NoError(t, err)
	assert.Contains(t, out, "unblocked")
}

func TestUserCommands_Validation(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "create-user", "--name", "Ada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email")

	_, err = f.run(t, "grant-admin")
	require.Error(t, err)

	_, err = f.run(t, "block-user", "--email", "nobody@example.com")
	require.Error(t, err)
}
