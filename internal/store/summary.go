package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RowSummary is one persisted record as seen without decoding its key or
// value blobs, for offline inspection tools that do not have the build's
// rule types registered.
type RowSummary struct {
	ID        int64
	KeyType   string
	Built     int64
	Changed   int64
	Execution time.Duration
	DepGroups [][]int64
}

// ReadSummaries opens a database file and returns every record plus the
// last session id. The file is opened the same way Open does (read-write,
// with the pragmas and schema applied, so a missing file in an existing
// directory is created empty); nothing else is written. It never decodes
// gob blobs, so it works on databases produced by any build.
func ReadSummaries(path string) ([]RowSummary, string, error) {
	p, err := openPersistence(path)
	if err != nil {
		return nil, "", err
	}
	defer p.close()

	var session string
	err = p.db.QueryRow(`SELECT v FROM meta WHERE k = 'session'`).Scan(&session)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("read meta session: %w", err)
	}

	rows, err := p.db.Query(`
		SELECT id, key_type, built, changed, execution_ns, deps
		FROM records ORDER BY id
	`)
	if err != nil {
		return nil, "", fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var out []RowSummary
	for rows.Next() {
		var (
			s        RowSummary
			execNS   int64
			depsJSON string
		)
		if err := rows.Scan(&s.ID, &s.KeyType, &s.Built, &s.Changed, &execNS, &depsJSON); err != nil {
			return nil, "", fmt.Errorf("scan record: %w", err)
		}
		s.Execution = time.Duration(execNS)
		if err := json.Unmarshal([]byte(depsJSON), &s.DepGroups); err != nil {
			return nil, "", fmt.Errorf("record %d: bad deps: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("read records: %w", err)
	}
	return out, session, nil
}
