package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// DBOpener opens the database a command works on
type DBOpener func(ctx context.Context) (*sql.DB, error)

// Env carries what commands need from the process. The database is opened
// on first use and closed by Close.
type Env struct {
	Open   DBOpener
	Out    io.Writer
	Logger *observability.Logger

	db *sql.DB
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the tenantctl root command
func NewRootCommand(env *Env) *Command {
	if env.Logger == nil {
		env.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	root := &Command{
		Name:        "tenantctl",
		Description: "tenantctl - administration of the tenantry service",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tenantctl", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newSeedCommand(env),
		newCreateUserCommand(env),
		newBlockUserCommand(env),
		newGrantAdminCommand(env),
		newCreateTokenCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		c.usage(out)
		return nil
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) usage(out io.Writer) {
	fmt.Fprintf(out, "Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
}

func (e *Env) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	if e.db == nil {
		db, err := e.Open(ctx)
		if err != nil {
			return err
		}
		e.db = db
	}
	return fn(e.db)
}

// Close closes the database if a command opened it
func (e *Env) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
