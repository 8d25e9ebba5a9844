package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/platinummonkey/tenantry/pkg/cli"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/storage/postgres"
)

func main() {
	databaseURL := os.Getenv("TENANTRY_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "postgres://localhost/tenantry?sslmode=disable"
	}

	logger := observability.NewLogger(
		observability.ParseLogLevel(os.Getenv("TENANTRY_LOG_LEVEL")), os.Stderr)

	env := &cli.Env{
		Out:    os.Stdout,
		Logger: logger,
		Open: func(ctx context.Context) (*sql.DB, error) {
			return postgres.Open(ctx, postgres.ConnectionConfig{URL: databaseURL, MaxOpenConns: 2})
		},
	}
	defer env.Close()

	root := cli.NewRootCommand(env)
	if err := root.Execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		env.Close()
		os.Exit(1)
	}
}
