package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/migrations"
)

const usage = `Usage: migrate [flags] <command>

Commands:
  up              apply all pending migrations
  down            roll back every migration
  steps <n>       apply n migrations, or roll back when n is negative
  version         print the current schema version
  force <version> mark a version as applied without running it

Flags:
`

// migrateLogger routes golang-migrate's progress output through zerolog.
type migrateLogger struct {
	log     zerolog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return l.verbose }

func main() {
	dir := flag.String("path", "", "directory of migration files (default: the schema built into the binary)")
	verbose := flag.Bool("v", false, "log every applied migration")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, "pretty")

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	m, err := newMigrate(*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed to initialize")
	}
	defer m.Close()
	m.Log = migrateLogger{log: log, verbose: *verbose}

	if err := run(m, args); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return report(m, ignoreNoChange(m.Up()))
	case "down":
		return report(m, ignoreNoChange(m.Down()))
	case "steps":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return report(m, ignoreNoChange(m.Steps(n)))
	case "version":
		return report(m, nil)
	case "force":
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return report(m, m.Force(v))
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func report(m *migrate.Migrate, err error) error {
	if err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("Schema version: none")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a number", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[1], err)
	}
	return n, nil
}

func newMigrate(dir, dbURL string) (*migrate.Migrate, error) {
	if dir != "" {
		return migrate.New("file://"+dir, dbURL)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dbURL)
}
