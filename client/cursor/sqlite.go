package cursor

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SqliteStore struct {
	db        *sql.DB
	tableName string
}

type SqliteStoreOpt func(*SqliteStore)

func WithTableName(name string) SqliteStoreOpt {
	return func(s *SqliteStore) {
		s.tableName = name
	}
}

func NewSQLiteStore(dbPath string, opts ...SqliteStoreOpt) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	store := &SqliteStore{
		db:        db,
		tableName: "cursors",
	}

	for _, o := range opts {
		o(store)
	}

	if err := store.init(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SqliteStore) init() error {
	createTable := fmt.Sprintf(`
	create table if not exists %s (
		source text primary key,
		cursor integer
	);`, s.tableName)
	_, err := s.db.Exec(createTable)
	return err
}

func (s *SqliteStore) Set(source string, cursor int64) {
	query := fmt.Sprintf(`
		insert into %s (source, cursor)
		values (?, ?)
		on conflict(source) do update set cursor=excluded.cursor;
	`, s.tableName)

	s.db.Exec(query, source, cursor)
}

func (s *SqliteStore) Get(source string) (cursor int64) {
	query := fmt.Sprintf(`
		select cursor from %s where source = ?;
	`, s.tableName)
	err := s.db.QueryRow(query, source).Scan(&cursor)
	if err != nil {
		return 0
	}

	return cursor
}
