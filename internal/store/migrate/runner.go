// Package migrate applies the embedded store schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/store"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var (
	ErrDirection = errors.New("migrate: direction must be up or down")
	ErrDirty     = errors.New("migrate: schema is dirty")
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("%w, got %q", ErrDirection, s)
	}
}

// Result is the schema version before and after a run. Version 0 means no
// migration has been applied.
type Result struct {
	Direction Direction
	From      uint
	To        uint
}

func (r Result) Changed() bool { return r.From != r.To }

// Run moves the schema one direction as far as it goes. Being already at the
// target is not an error. A dirty schema is refused; it needs a manual force.
func Run(dsn string, dir Direction, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	res := Result{Direction: dir}
	if dsn == "" {
		return res, errors.New("migrate: DATABASE_URL is not set")
	}
	if dir != Up && dir != Down {
		return res, fmt.Errorf("%w, got %q", ErrDirection, dir)
	}

	source, err := iofs.New(store.MigrationFS, "migrations")
	if err != nil {
		return res, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return res, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	m.Log = migrateLogger{log.Named("migrate").Sugar()}

	from, dirty, err := version(m)
	if err != nil {
		return res, err
	}
	res.From, res.To = from, from
	if dirty {
		return res, fmt.Errorf("%w at version %d", ErrDirty, from)
	}

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migrate %s: %w", dir, err)
	}
	if res.To, _, err = version(m); err != nil {
		return res, err
	}
	log.Info("schema migrated",
		zap.String("direction", string(dir)),
		zap.Uint("from", res.From),
		zap.Uint("to", res.To),
	)
	return res, nil
}

func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return v, dirty, nil
}

// migrateLogger routes golang-migrate's progress lines to zap at debug level.
type migrateLogger struct{ s *zap.SugaredLogger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.s.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }
