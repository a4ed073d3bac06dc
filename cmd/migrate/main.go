package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/safmarket/saf-backend/internal/bootstrap"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/db"
	"github.com/safmarket/saf-backend/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up             apply all pending migrations
  down           roll back the latest migration
  status         list migrations and when they were applied
  version        print the current database version
  to <version>   migrate up or down to the given version
  create <name>  write a new empty migration into -dir
  validate       check migration filenames and goose markers in -dir`

func main() {
	dir := flag.String("dir", migrate.SourceDir, "migrations source directory for create and validate")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, arg := flag.Arg(0), flag.Arg(1)

	if err := runOffline(command, arg, *dir); !errors.Is(err, errNeedsDatabase) {
		exitOn(err)
		return
	}

	cfg, logg, err := bootstrap.Load("migrate")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	ctx := logg.WithField(context.Background(), "cmd", command)
	if err := runOnline(ctx, cfg, command, arg); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

var errNeedsDatabase = errors.New("command needs a database")

func runOffline(command, arg, dir string) error {
	switch command {
	case "create":
		if arg == "" {
			return fmt.Errorf("create requires a migration name")
		}
		path, err := migrate.CreateSQLMigration(dir, arg, time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	default:
		return errNeedsDatabase
	}
}

func runOnline(ctx context.Context, cfg *config.Config, command, arg string) error {
	client, err := db.New(ctx, cfg.DB, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, nil)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		return runner.Down(ctx)
	case "version":
		version, err := runner.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
	case "to":
		target, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", arg, err)
		}
		return runner.To(ctx, target)
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(out, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
		}
		return out.Flush()
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
	return nil
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
