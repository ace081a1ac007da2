// Package dbadmin manages database users, databases and grants on MySQL and
// PostgreSQL servers through database/sql.
package dbadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Supported engines.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
)

// Environment variables holding admin connection strings.
const (
	EnvMySQLDSN    = "CONVERGE_MYSQL_DSN"
	EnvPostgresDSN = "CONVERGE_POSTGRES_DSN"
)

// Grant describes privileges given to User on Database. An empty Database
// means every database (MySQL only).
type Grant struct {
	User       string
	Database   string
	Privileges []string
}

// Admin is the database administration contract.
type Admin interface {
	UserExists(ctx context.Context, name string) (bool, error)
	CreateUser(ctx context.Context, name string, password []byte) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string) error
	GrantPrivileges(ctx context.Context, g Grant) error
}

// SQL is an Admin backed by a database/sql connection pool.
type SQL struct {
	db *sql.DB
	d  dialect
}

// Open prepares an admin connection for engine. No network traffic happens
// until the first statement.
func Open(engine, dsn string) (*SQL, error) {
	d, ok := dialects[engine]
	if !ok {
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}
	if dsn == "" {
		return nil, fmt.Errorf("no connection string for %s", engine)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", engine, err)
	}
	db.SetMaxOpenConns(1)
	return &SQL{db: db, d: d}, nil
}

// Close releases the pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) UserExists(ctx context.Context, name string) (bool, error) {
	return s.count(ctx, s.d.userExists, name)
}

func (s *SQL) DatabaseExists(ctx context.Context, name string) (bool, error) {
	return s.count(ctx, s.d.databaseExists, name)
}

func (s *SQL) CreateUser(ctx context.Context, name string, password []byte) error {
	stmt, err := s.d.createUser(name, password)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmt)
}

func (s *SQL) CreateDatabase(ctx context.Context, name string) error {
	stmt, err := s.d.createDatabase(name)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmt)
}

func (s *SQL) GrantPrivileges(ctx context.Context, g Grant) error {
	stmt, err := s.d.grant(g)
	if err != nil {
		return err
	}
	return s.exec(ctx, stmt)
}

func (s *SQL) count(ctx context.Context, query, arg string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: %w", s.d.name, err)
	}
	return n > 0, nil
}

// exec runs a DDL statement. Identifiers and literals are already quoted;
// DDL cannot take bind parameters on either server.
func (s *SQL) exec(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", s.d.name, err)
	}
	return nil
}

// Pool opens one Admin per engine on first use and keeps it for the run.
type Pool struct {
	// DSN maps engine names to connection strings.
	DSN map[string]string

	mu    sync.Mutex
	conns map[string]*SQL
}

// NewPool returns a Pool with connection strings taken from getenv.
func NewPool(getenv func(string) string) *Pool {
	return &Pool{DSN: map[string]string{
		MySQL:    getenv(EnvMySQLDSN),
		Postgres: getenv(EnvPostgresDSN),
	}}
}

// For returns the Admin for engine.
func (p *Pool) For(engine string) (Admin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[engine]; ok {
		return c, nil
	}
	c, err := Open(engine, p.DSN[engine])
	if err != nil {
		return nil, err
	}
	if p.conns == nil {
		p.conns = make(map[string]*SQL)
	}
	p.conns[engine] = c
	return c, nil
}

// Close closes every opened connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for engine, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", engine, err))
		}
	}
	p.conns = nil
	return errors.Join(errs...)
}
