package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/learnloop/coursemarket-backend/pkg/config"
)

// DefaultDir is where new migrations are written, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migration set to apply: dir when given, otherwise the
// set compiled into the binary.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}
	return os.DirFS(dir), nil
}

func newProvider(db *sql.DB, driver string, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	// the SQL targets postgres; sqlite only ever sees status checks
	dialect := goose.DialectPostgres
	if driver == config.DriverSQLite {
		dialect = goose.DialectSQLite3
	}
	return goose.NewProvider(dialect, db, fsys)
}

// Run executes up, down or status and writes one line per migration to out.
func Run(ctx context.Context, db *sql.DB, driver string, fsys fs.FS, command string, out io.Writer) error {
	provider, err := newProvider(db, driver, fsys)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		printResults(out, results...)
		return wrap("up", err)
	case "down":
		result, err := provider.Down(ctx)
		if result != nil {
			printResults(out, result)
		}
		return wrap("down", err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return wrap("status", err)
		}
		for _, st := range statuses {
			applied := "pending"
			if st.State == goose.StateApplied {
				applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-14d  %-19s  %s\n", st.Source.Version, applied, st.Source.Path)
		}
		return nil
	}
	return fmt.Errorf("unsupported migrate command %q", command)
}

// MigrateTo moves the schema up or down until target is the newest applied version.
func MigrateTo(ctx context.Context, db *sql.DB, driver string, fsys fs.FS, target int64, out io.Writer) error {
	provider, err := newProvider(db, driver, fsys)
	if err != nil {
		return err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return wrap("version", err)
	}

	var results []*goose.MigrationResult
	switch {
	case target > current:
		results, err = provider.UpTo(ctx, target)
	case target < current:
		results, err = provider.DownTo(ctx, target)
	}
	printResults(out, results...)
	return wrap(fmt.Sprintf("migrate %d -> %d", current, target), err)
}

func printResults(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %-14d %s (%s)\n", r.Direction, r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
