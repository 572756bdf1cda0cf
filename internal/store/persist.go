package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keelbuild/keel/internal/key"
)

//go:embed schema.sql
var schemaSQL string

// persistence wraps the SQLite file backing a Database. SQLite only
// supports one writer at a time, so the connection pool is pinned to a
// single connection; the Database mutex already serializes callers.
type persistence struct {
	db *sql.DB
}

func openPersistence(path string) (*persistence, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &persistence{db: db}, nil
}

func (p *persistence) close() error {
	return p.db.Close()
}

func (p *persistence) writeMeta(step int64, sessionID string) error {
	for k, v := range map[string]string{
		"step":    strconv.FormatInt(step, 10),
		"session": sessionID,
	} {
		_, err := p.db.Exec(`
			INSERT INTO meta (k, v) VALUES (?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v
		`, k, v)
		if err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}

func (p *persistence) readStep() (int64, error) {
	var v string
	err := p.db.QueryRow(`SELECT v FROM meta WHERE k = 'step'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read meta step: %w", err)
	}
	step, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse meta step %q: %w", v, err)
	}
	return step, nil
}

// load restores persisted records into the in-memory map as statusLoaded
// entries. Rows whose key, value, or deps no longer decode are skipped;
// their keys rebuild from scratch. Rows whose dependencies reference such
// undecodable rows are skipped too, since their validity can never be
// confirmed. That second pass is not repeated: a row whose dependency was
// itself skipped only in the second pass is still loaded, and its check
// then finds that dependency rebuilt this session.
func (d *Database) load() error {
	step, err := d.persist.readStep()
	if err != nil {
		return err
	}
	d.step = step + 1

	rows, err := d.persist.db.Query(`
		SELECT id, key_blob, value_blob, built, changed, execution_ns, deps
		FROM records ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	type raw struct {
		e    *entry
		deps [][]int64
	}
	byID := make(map[int64]*entry)
	var loaded []raw

	for rows.Next() {
		var (
			id, built, changed, execNS int64
			keyBlob, valueBlob         []byte
			depsJSON                   string
		)
		if err := rows.Scan(&id, &keyBlob, &valueBlob, &built, &changed, &execNS, &depsJSON); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}

		k, err := key.DecodeGob(keyBlob)
		if err != nil {
			d.logger.Debug("dropping undecodable key record", "id", id, "error", err)
			continue
		}
		v, err := key.DecodeGob(valueBlob)
		if err != nil {
			d.logger.Debug("dropping undecodable value record", "id", id, "key", key.Show(k))
			continue
		}
		var depIDs [][]int64
		if err := json.Unmarshal([]byte(depsJSON), &depIDs); err != nil {
			d.logger.Debug("dropping record with bad deps", "id", id, "key", key.Show(k))
			continue
		}

		e := &entry{
			id:        id,
			k:         k,
			status:    statusLoaded,
			value:     v,
			built:     built,
			changed:   changed,
			execution: time.Duration(execNS),
		}
		byID[id] = e
		loaded = append(loaded, raw{e: e, deps: depIDs})
		if id >= d.nextID {
			d.nextID = id + 1
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	for _, r := range loaded {
		groups, ok := resolveDeps(r.deps, byID)
		if !ok {
			d.logger.Debug("dropping record with missing dep rows", "key", key.Show(r.e.k))
			continue
		}
		r.e.deps = groups
		d.entries[r.e.k] = r.e
	}
	return nil
}

func resolveDeps(depIDs [][]int64, byID map[int64]*entry) ([]key.Depends, bool) {
	groups := make([]key.Depends, 0, len(depIDs))
	for _, ids := range depIDs {
		g := make(key.Depends, 0, len(ids))
		for _, id := range ids {
			de, ok := byID[id]
			if !ok {
				return nil, false
			}
			g = append(g, de.k)
		}
		groups = append(groups, g)
	}
	return groups, true
}

// persistEntryLocked upserts a finished record. Values that cannot be
// gob-encoded stay session-only and rebuild next time. Caller holds d.mu.
func (d *Database) persistEntryLocked(e *entry) {
	if d.persist == nil {
		return
	}

	keyBlob, err := key.EncodeGob(e.k)
	if err != nil {
		d.logger.Debug("not persisting key", "key", key.Show(e.k), "error", err)
		return
	}
	valueBlob, err := key.EncodeGob(e.value)
	if err != nil {
		d.logger.Debug("not persisting value", "key", key.Show(e.k), "error", err)
		return
	}

	depIDs := make([][]int64, 0, len(e.deps))
	for _, g := range e.deps {
		ids := make([]int64, 0, len(g))
		for _, dk := range g {
			de, ok := d.entries[dk]
			if !ok {
				// A dependency that never finished would still be
				// mid-flight; reaching here means it completed first.
				d.logger.Debug("not persisting record with unknown dep", "key", key.Show(e.k))
				return
			}
			ids = append(ids, de.id)
		}
		depIDs = append(depIDs, ids)
	}
	depsJSON, err := json.Marshal(depIDs)
	if err != nil {
		d.logger.Debug("not persisting deps", "key", key.Show(e.k), "error", err)
		return
	}

	_, err = d.persist.db.Exec(`
		INSERT INTO records (id, key_type, key_blob, value_blob, built, changed, execution_ns, deps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value_blob = excluded.value_blob,
			built = excluded.built,
			changed = excluded.changed,
			execution_ns = excluded.execution_ns,
			deps = excluded.deps
	`, e.id, key.TypeOf(e.k).String(), keyBlob, valueBlob,
		e.built, e.changed, e.execution.Nanoseconds(), string(depsJSON))
	if err != nil {
		d.logger.Warn("persist failed", "key", key.Show(e.k), "error", err)
	}
}
