package clusterstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the cluster database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cluster database")
	}
	// The desktop process is the only writer; one connection avoids
	// SQLITE_BUSY on concurrent hub operations.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate cluster database")
	}

	return store, nil
}

// migrate creates the database schema
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		context_name TEXT NOT NULL,
		kubeconfig_path TEXT NOT NULL,
		server TEXT,
		preferences TEXT,
		port INTEGER DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_context ON clusters(context_name);
	`
	_, err := s.db.Exec(schema)
	return errors.WithStack(err)
}

func (s *SQLiteStore) StoreCluster(record *Record) error {
	if record.ID == "" {
		return errors.New("cluster record has no id")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.UpdatedAt = time.Now()

	prefs, err := json.Marshal(record.Preferences)
	if err != nil {
		return errors.Wrap(err, "failed to encode cluster preferences")
	}

	_, err = s.db.Exec(`
		INSERT INTO clusters (id, context_name, kubeconfig_path, server, preferences, port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context_name = excluded.context_name,
			kubeconfig_path = excluded.kubeconfig_path,
			server = excluded.server,
			preferences = excluded.preferences,
			port = excluded.port,
			updated_at = excluded.updated_at`,
		record.ID, record.ContextName, record.KubeconfigPath, record.Server,
		string(prefs), record.Port, record.CreatedAt, record.UpdatedAt)
	return errors.Wrapf(err, "failed to store cluster %s", record.ID)
}

func (s *SQLiteStore) ReloadCluster(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, context_name, kubeconfig_path, server, preferences, port, created_at, updated_at
		FROM clusters WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) RemoveCluster(id string) error {
	_, err := s.db.Exec(`DELETE FROM clusters WHERE id = ?`, id)
	return errors.Wrapf(err, "failed to remove cluster %s", id)
}

func (s *SQLiteStore) ListClusters() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT id, context_name, kubeconfig_path, server, preferences, port, created_at, updated_at
		FROM clusters ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clusters")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, errors.WithStack(rows.Err())
}

func (s *SQLiteStore) Close() error {
	return errors.WithStack(s.db.Close())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var prefs sql.NullString
	var server sql.NullString

	err := row.Scan(&record.ID, &record.ContextName, &record.KubeconfigPath,
		&server, &prefs, &record.Port, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	record.Server = server.String
	if prefs.Valid && prefs.String != "" {
		if err := json.Unmarshal([]byte(prefs.String), &record.Preferences); err != nil {
			return nil, errors.Wrapf(err, "corrupt preferences for cluster %s", record.ID)
		}
	}
	return &record, nil
}
