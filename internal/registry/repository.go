// Package registry persists what discovery and printing learned across
// restarts: which printers have been seen and what jobs were sent.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kushan-developer/thermal-printer/internal/manager"
	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

// KnownPrinter is one remembered device.
type KnownPrinter struct {
	Address        string
	Name           string
	ConnectionType transport.Type
	Paper          profile.PaperClass
	LastSeen       time.Time
}

// JobRecord is one completed (or failed) print job.
type JobRecord struct {
	Id        int
	Address   string
	Bytes     int
	Chunks    int
	Status    string
	CreatedAt time.Time
}

type Repository struct {
	Db *sql.DB
}

// RememberPrinter inserts or refreshes a known printer row.
func (r *Repository) RememberPrinter(tx *sql.Tx, p manager.Printer, seen time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO known_printer(address, name, connection_type, paper, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			connection_type = excluded.connection_type,
			paper = excluded.paper,
			last_seen = excluded.last_seen`,
		p.Address, p.Name, string(p.ConnectionType), string(p.Paper), seen)
	if err != nil {
		return fmt.Errorf("Failed to upsert known printer:\n%w", err)
	}
	return nil
}

// GetPrinter reads one remembered printer, or nil when never seen.
func (r *Repository) GetPrinter(address string) (*KnownPrinter, error) {
	row := r.Db.QueryRow(`
		SELECT name, connection_type, paper, last_seen
		FROM known_printer
		WHERE address = ?`, address)

	p := KnownPrinter{Address: address}
	var connType, paper string
	if err := row.Scan(&p.Name, &connType, &paper, &p.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to read known printer:\n%w", err)
	}
	p.ConnectionType = transport.Type(connType)
	p.Paper = profile.PaperClass(paper)
	return &p, nil
}

// ListPrinters returns every remembered printer, most recently seen
// first.
func (r *Repository) ListPrinters() ([]KnownPrinter, error) {
	rows, err := r.Db.Query(`
		SELECT address, name, connection_type, paper, last_seen
		FROM known_printer
		ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("Failed to query known printers:\n%w", err)
	}
	defer rows.Close()

	var printers []KnownPrinter
	for rows.Next() {
		var p KnownPrinter
		var connType, paper string
		if err := rows.Scan(&p.Address, &p.Name, &connType, &paper, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("Failed to scan known printer:\n%w", err)
		}
		p.ConnectionType = transport.Type(connType)
		p.Paper = profile.PaperClass(paper)
		printers = append(printers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read known printers:\n%w", err)
	}
	return printers, nil
}

// RecordJob appends one job history row.
func (r *Repository) RecordJob(tx *sql.Tx, j *JobRecord) error {
	row := tx.QueryRow(`
		INSERT INTO job_history(address, bytes, chunks, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		j.Address, j.Bytes, j.Chunks, j.Status, j.CreatedAt)
	if err := row.Scan(&j.Id); err != nil {
		return fmt.Errorf("Failed to insert job history row:\n%w", err)
	}
	return nil
}

// ListJobs returns recent job history for one printer, newest first.
func (r *Repository) ListJobs(address string, limit int) ([]JobRecord, error) {
	rows, err := r.Db.Query(`
		SELECT id, address, bytes, chunks, status, created_at
		FROM job_history
		WHERE address = ?
		ORDER BY created_at DESC
		LIMIT ?`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("Failed to query job history:\n%w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.Id, &j.Address, &j.Bytes, &j.Chunks, &j.Status, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("Failed to scan job history row:\n%w", err)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read job history:\n%w", err)
	}
	return jobs, nil
}

// Transact runs operations in a transaction, committing afterward, or
// rolling back if the passed function returns an error.
func (r *Repository) Transact(f func(*sql.Tx) error) error {
	tx, err := r.Db.Begin()
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		err2 := tx.Rollback()
		if err2 != nil {
			return fmt.Errorf("Failed to roll back transaction: %w\n\nAfter handling: %v", err2, err)
		}
		return err
	}
	if err2 := tx.Commit(); err2 != nil {
		return fmt.Errorf("Failed to commit transaction:\n%w", err2)
	}
	return nil
}
