package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/synqronlabs/xray/utils"
)

var schema = map[string][]string{
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id CHAR(26) PRIMARY KEY,
			account_id BIGINT NULL,
			general JSON NOT NULL,
			spamassassin JSON NOT NULL,
			authentication JSON NOT NULL,
			rbl JSON NOT NULL
		)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id CHAR(26) PRIMARY KEY,
			account_id BIGINT REFERENCES accounts (id),
			general JSONB NOT NULL,
			spamassassin JSONB NOT NULL,
			authentication JSONB NOT NULL,
			rbl JSONB NOT NULL
		)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			account_id INTEGER REFERENCES accounts (id),
			general TEXT NOT NULL,
			spamassassin TEXT NOT NULL,
			authentication TEXT NOT NULL,
			rbl TEXT NOT NULL
		)`,
	},
}

const insertReport = `INSERT INTO reports (id, account_id, general, spamassassin, authentication, rbl)
VALUES (?, (SELECT id FROM accounts WHERE name = ?), ?, ?, ?, ?)`

// SQLStore keeps reports in a reports table next to an accounts table.
type SQLStore struct {
	db     *sql.DB
	driver string
	insert string
}

// OpenSQL connects to the database and checks it answers.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: connecting to %s: %w", driver, err)
	}
	return NewSQLStore(db, driver), nil
}

// NewSQLStore uses an open database of the given driver.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, insert: rebind(driver, insertReport)}
}

// rebind turns ? placeholders into the numbered form PostgreSQL expects.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Init creates the tables when missing.
func (s *SQLStore) Init(ctx context.Context) error {
	stmts, ok := schema[s.driver]
	if !ok {
		return fmt.Errorf("storage: no schema for driver %q", s.driver)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: creating schema: %w", err)
		}
	}
	return nil
}

// AddAccount registers an account name, usually the address reports are
// sent to.
func (s *SQLStore) AddAccount(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver, `INSERT INTO accounts (name) VALUES (?)`), name)
	if err != nil {
		return fmt.Errorf("storage: adding account %s: %w", name, err)
	}
	return nil
}

// Save inserts the report. A recipient without an account is stored with
// no account.
func (s *SQLStore) Save(ctx context.Context, recipient string, docs Documents) (string, error) {
	id := utils.NewID()
	args := []any{id, recipient}
	for _, d := range docs.named() {
		args = append(args, string(d.doc))
	}

	if _, err := s.db.ExecContext(ctx, s.insert, args...); err != nil {
		return "", fmt.Errorf("storage: saving report for %s: %w", recipient, err)
	}
	return id, nil
}

// Load returns the stored documents of report id and the account it
// belongs to.
func (s *SQLStore) Load(ctx context.Context, id string) (account string, docs Documents, err error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver, `SELECT COALESCE(a.name, ''), r.general, r.spamassassin, r.authentication, r.rbl
FROM reports r LEFT JOIN accounts a ON a.id = r.account_id WHERE r.id = ?`), id)

	var general, sa, authn, rbl string
	if err := row.Scan(&account, &general, &sa, &authn, &rbl); err != nil {
		return "", Documents{}, fmt.Errorf("storage: loading report %s: %w", id, err)
	}
	return account, Documents{
		General:        []byte(general),
		SpamAssassin:   []byte(sa),
		Authentication: []byte(authn),
		RBL:            []byte(rbl),
	}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
