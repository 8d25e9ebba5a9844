package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/modules"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/storage/postgres"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withDB(ctx, func(db *sql.DB) error {
			if err := postgres.RunMigrations(ctx, db, env.Logger); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "migrations applied")
			return nil
		})
	}
	return cmd
}

func newSeedCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Seed roles, permissions and the module catalog",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	policyFile := cmd.Flags.String("policy", "", "Policy YAML file (built-in policy when empty)")
	catalogFile := cmd.Flags.String("catalog", "", "Module catalog YAML file (built-in catalog when empty)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		policy := rbac.DefaultPolicy()
		if *policyFile != "" {
			loaded, err := rbac.LoadPolicy(*policyFile)
			if err != nil {
				return err
			}
			policy = loaded
		}
		catalog := modules.DefaultCatalog()
		if *catalogFile != "" {
			loaded, err := modules.LoadCatalog(*catalogFile)
			if err != nil {
				return err
			}
			catalog = loaded
		}

		return env.withDB(ctx, func(db *sql.DB) error {
			if err := Seed(ctx, db, policy, catalog); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "seeded %d roles, %d permissions, %d modules\n",
				len(policy.Levels), len(rbac.DefaultPermissions()), len(catalog.Modules))
			return nil
		})
	}
	return cmd
}

// Seed upserts the roles of policy, the default permission set and the
// module catalog. It is safe to run on every start.
func Seed(ctx context.Context, db *sql.DB, policy *rbac.Policy, catalog *modules.Catalog) error {
	if err := rbac.NewRoleStore(db).SeedDefaults(ctx, policy, rbac.DefaultPermissions()); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	registry := modules.NewPostgresRegistry(db, tenancy.NewEnforcer(nil, nil, false), nil)
	if err := registry.Seed(ctx, catalog); err != nil {
		return fmt.Errorf("failed to seed modules: %w", err)
	}
	return nil
}

func newCreateUserCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "create-user",
		Description: "Create a user",
		Flags:       flag.NewFlagSet("create-user", flag.ContinueOnError),
	}
	name := cmd.Flags.String("name", "", "Display name (required)")
	email := cmd.Flags.String("email", "", "Email address (required)")
	admin := cmd.Flags.Bool("admin", false, "Make the user a global admin")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *name == "" || *email == "" {
			return fmt.Errorf("--name and --email are required")
		}

		return env.withDB(ctx, func(db *sql.DB) error {
			users := auth.NewUserStore(db)
			user, err := users.CreateUser(ctx, *name, *email)
			if err != nil {
				return err
			}
			if *admin {
				if err := users.SetGlobalAdmin(ctx, user.ID, true); err != nil {
					return err
				}
			}
			fmt.Fprintf(env.Out, "created user %d (%s)\n", user.ID, user.Email)
			return nil
		})
	}
	return cmd
}

func newBlockUserCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "block-user",
		Description: "Block a user and revoke their API tokens",
		Flags:       flag.NewFlagSet("block-user", flag.ContinueOnError),
	}
	email := cmd.Flags.String("email", "", "Email address (required)")
	unblock := cmd.Flags.Bool("unblock", false, "Lift the block instead")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withUser(ctx, *email, func(db *sql.DB, users *auth.UserStore, user *auth.User) error {
			if err := users.SetBlocked(ctx, user.ID, !*unblock); err != nil {
				return err
			}
			state := "blocked"
			if *unblock {
				state = "unblocked"
			}
			fmt.Fprintf(env.Out, "%s user %d\n", state, user.ID)
			return nil
		})
	}
	return cmd
}

func newGrantAdminCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "grant-admin",
		Description: "Grant or revoke global admin",
		Flags:       flag.NewFlagSet("grant-admin", flag.ContinueOnError),
	}
	email := cmd.Flags.String("email", "", "Email address (required)")
	revoke := cmd.Flags.Bool("revoke", false, "Revoke global admin instead")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withUser(ctx, *email, func(db *sql.DB, users *auth.UserStore, user *auth.User) error {
			if err := users.SetGlobalAdmin(ctx, user.ID, !*revoke); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "global admin for user %d: %t\n", user.ID, !*revoke)
			return nil
		})
	}
	return cmd
}

func newCreateTokenCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "create-token",
		Description: "Issue an API token for a user",
		Flags:       flag.NewFlagSet("create-token", flag.ContinueOnError),
	}
	email := cmd.Flags.String("email", "", "Email address (required)")
	name := cmd.Flags.String("name", "cli", "Token name")
	ttl := cmd.Flags.Duration("ttl", 0, "Token lifetime (no expiry when zero)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return env.withUser(ctx, *email, func(db *sql.DB, users *auth.UserStore, user *auth.User) error {
			var expiresAt *time.Time
			if *ttl > 0 {
				t := time.Now().UTC().Add(*ttl)
				expiresAt = &t
			}

			_, plaintext, err := auth.NewTokenManager(db).CreateToken(ctx, user.ID, *name, expiresAt)
			if err != nil {
				return err
			}
			// The plaintext is shown once and never stored.
			fmt.Fprintln(env.Out, plaintext)
			return nil
		})
	}
	return cmd
}

func (e *Env) withUser(ctx context.Context, email string, fn func(db *sql.DB, users *auth.UserStore, user *auth.User) error) error {
	if email == "" {
		return fmt.Errorf("--email is required")
	}
	return e.withDB(ctx, func(db *sql.DB) error {
		users := auth.NewUserStore(db)
		user, err := users.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		return fn(db, users, user)
	})
}
