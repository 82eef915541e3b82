package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3mig "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/delegate-run/delegate/internal/db/migrations"
	"github.com/delegate-run/delegate/internal/log"
)

var upFileRe = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// CurrentVersion returns the highest migration version embedded in the
// binary, i.e. the version the schema should be at after a clean apply.
func CurrentVersion() (int, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	max := 0
	for _, e := range entries {
		m := upFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

// migrateUp snapshots the database file (if non-empty), applies any
// pending migrations via golang-migrate, and restores from the snapshot
// if anything fails partway through. golang-migrate does the ordered,
// transactional application; the snapshot/restore policy around it is
// Delegate-specific and implemented here, per spec §4.2.
func (d *DB) migrateUp(ctx context.Context) error {
	before, nonEmpty, err := d.currentSchemaState(ctx)
	if err != nil {
		return err
	}

	target, err := CurrentVersion()
	if err != nil {
		return err
	}
	if before >= target {
		return nil
	}

	var backupPath string
	if nonEmpty {
		backupPath, err = d.snapshot(before)
		if err != nil {
			return fmt.Errorf("snapshotting before migration: %w", err)
		}
	}

	if err := d.applyMigrations(); err != nil {
		log.ErrorErr(log.CatDB, "migration failed, restoring from backup", err, "backup", backupPath)
		if backupPath != "" {
			if rerr := d.restore(backupPath); rerr != nil {
				return fmt.Errorf("migration failed (%w) AND restore failed (%v)", err, rerr)
			}
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	return d.recordVersion(ctx, target)
}

func (d *DB) applyMigrations() error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	driver, err := sqlite3mig.WithInstance(d.DB, &sqlite3mig.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite3 migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// currentSchemaState returns (version, nonEmpty). version is 0 and
// nonEmpty is false for a brand-new database file with no tables yet.
func (d *DB) currentSchemaState(ctx context.Context) (version int, nonEmpty bool, err error) {
	var name string
	err = d.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' LIMIT 1").Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("checking schema state: %w", err)
	}

	var applied int
	row := d.QueryRowContext(ctx, "SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1")
	if serr := row.Scan(&applied); serr != nil {
		// Either schema_meta has no rows yet, or it doesn't exist yet
		// (pre-V001 database) — either way treat as version 0.
		return 0, true, nil
	}
	return applied, true, nil
}

func (d *DB) recordVersion(ctx context.Context, version int) error {
	_, err := d.ExecContext(ctx, "INSERT INTO schema_meta (version, applied_at) VALUES (?, ?)", version, time.Now().Unix())
	return err
}

// snapshot copies the database file to
// protected/db.sqlite.bak.V<current>.<timestamp>, per spec §4.2.
func (d *DB) snapshot(currentVersion int) (string, error) {
	backupPath := fmt.Sprintf("%s.bak.V%d.%d", d.path, currentVersion, time.Now().Unix())
	if err := copyFile(d.path, backupPath); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (d *DB) restore(backupPath string) error {
	if err := d.Close(); err != nil {
		return err
	}
	return copyFile(backupPath, d.path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
