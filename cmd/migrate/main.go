package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands only touch the migrations directory.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return errors.New("create needs -name")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	},
	"validate": func(o options) error {
		if err := migrate.ValidateDir(o.dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	},
	"list": func(o options) error {
		files, err := migrate.ListDir(o.dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%d  %s\n", f.Version, f.Name)
		}
		return nil
	},
}

type onlineFunc func(ctx context.Context, sqlDB *sql.DB, driver string, o options) error

func gooseCommand(command string) onlineFunc {
	return func(ctx context.Context, sqlDB *sql.DB, driver string, o options) error {
		fsys, err := migrate.Source(o.dir)
		if err != nil {
			return err
		}
		return migrate.Run(ctx, sqlDB, driver, fsys, command, os.Stdout)
	}
}

// online commands run against the configured database. Without -dir they
// apply the migrations embedded in this binary.
var online = map[string]onlineFunc{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, driver string, o options) error {
		target, err := strconv.ParseInt(o.version, 10, 64)
		if err != nil {
			return fmt.Errorf("version needs -version=YYYYMMDDHHMMSS: %w", err)
		}
		fsys, err := migrate.Source(o.dir)
		if err != nil {
			return err
		}
		return migrate.MigrateTo(ctx, sqlDB, driver, fsys, target, os.Stdout)
	},
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate|list")
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (default: embedded set; "+migrate.DefaultDir+" for create/validate/list)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": *cmd, "dir": opts.dir})

	if run, ok := offline[*cmd]; ok {
		if opts.dir == "" {
			opts.dir = migrate.DefaultDir
		}
		if err := run(opts); err != nil {
			logg.Error(ctx, "migrate command failed", err)
			os.Exit(1)
		}
		return
	}

	run, ok := online[*cmd]
	if !ok {
		logg.Error(ctx, "unknown migrate command", fmt.Errorf("unsupported -cmd %q", *cmd))
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to extract sql.DB", err)
		os.Exit(1)
	}

	if err := run(ctx, sqlDB, cfg.DB.Driver, opts); err != nil {
		logg.Error(ctx, "migrate command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate command finished")
}
