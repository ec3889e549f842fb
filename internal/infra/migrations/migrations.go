package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var embedded embed.FS

// lockKey serializes schema changes across forum-api nodes booting at the
// same time against one database.
const lockKey int64 = 0x666f72756d // "forum"

type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Load reads NNN_name.sql files from fsys ordered by version. Files without
// a numeric prefix are ignored; two files sharing a version are an error.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var all []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		base := strings.TrimSuffix(entry.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, other, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(content)

		all = append(all, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Version < all[j].Version
	})
	return all, nil
}

// Plan returns the migrations of all not yet in applied (version to
// recorded checksum). An applied migration whose file has since changed, or
// one this binary does not know, means the schema and the code disagree and
// nothing is planned.
func Plan(all []Migration, applied map[int]string) ([]Migration, error) {
	known := make(map[int]bool, len(all))
	var pending []Migration
	for _, m := range all {
		known[m.Version] = true
		sum, done := applied[m.Version]
		if !done {
			pending = append(pending, m)
			continue
		}
		// Rows written before checksums were recorded carry none.
		if sum != "" && sum != m.Checksum {
			return nil, fmt.Errorf("migration %d_%s was edited after it was applied", m.Version, m.Name)
		}
	}

	for version := range applied {
		if !known[version] {
			return nil, fmt.Errorf("database has migration %d that this build does not know; upgrade the binary", version)
		}
	}
	return pending, nil
}

// Pending lists the embedded migrations not yet applied.
func Pending(applied map[int]string) ([]Migration, error) {
	all, err := Load(embedded)
	if err != nil {
		return nil, err
	}
	return Plan(all, applied)
}

// Run applies the pending embedded migrations under a session advisory lock,
// each in its own transaction, and returns the ones it applied.
func Run(ctx context.Context, pool *pgxpool.Pool) ([]Migration, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		return nil, fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", lockKey)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	pending, err := Pending(applied)
	if err != nil {
		return nil, err
	}

	for _, m := range pending {
		if err := apply(ctx, conn, m); err != nil {
			return nil, fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return pending, nil
}

func appliedVersions(ctx context.Context, conn *pgxpool.Conn) (map[int]string, error) {
	rows, err := conn.Query(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		versions[version] = checksum
	}
	return versions, rows.Err()
}

func apply(ctx context.Context, conn *pgxpool.Conn, m Migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)",
		m.Version, m.Name, m.Checksum,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
