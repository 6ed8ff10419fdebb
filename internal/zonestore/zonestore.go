// Package zonestore implements a PowerDNS-backed CNAME lookup that backstops
// the upstream router's static resolver mode: hosts missing from the
// host_to_cname table are looked up in a directly-queried zone database.
// DNS resolver mode does not consult it. It reads the `records`
// table of a PowerDNS MySQL schema, looking up the CNAME record for a
// host rather than provisioning zones.
package zonestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Store queries the PowerDNS `records` table for CNAME records, and
// satisfies internal/router.Resolver.
type Store struct {
	db *sql.DB
}

// Connect opens the PowerDNS MySQL database.
func Connect(user, pass, host, dbName string) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:3306)/%s?parseTime=true", user, pass, host, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening zone store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging zone store: %w", err)
	}
	return &Store{db: db}, nil
}

// LookupCNAME implements internal/router.Resolver: a single CNAME record
// lookup against PowerDNS's records table, keyed by the fully-qualified
// record name. ok is false when no CNAME record exists for host, which the
// router treats as "no CNAME".
func (s *Store) LookupCNAME(ctx context.Context, host string) (string, bool, error) {
	var target string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM records WHERE name = ? AND type = 'CNAME' LIMIT 1", host,
	).Scan(&target)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up cname for %q: %w", host, err)
	}
	return target, true, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
