package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/chatter-dev/chatter/internal/logger"
)

// SQLitePersistence keeps the serialized snapshot in a single-row sqlite
// table. One record, replaced whole on every save.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (or creates) the database at path.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000")
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("sqlite snapshot store initialized", "path", path)
	return &SQLitePersistence{db: db}, nil
}

func (p *SQLitePersistence) Load() (*Snapshot, error) {
	var data string
	err := p.db.QueryRow(`SELECT data FROM snapshot WHERE id = 1;`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *SQLitePersistence) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO snapshot (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at;`,
		string(data), time.Now().UTC())
	return err
}

func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}
