package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/order-intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	issuer          TEXT NOT NULL DEFAULT '',
	doc_subtype     TEXT NOT NULL DEFAULT '',
	document_number TEXT NOT NULL DEFAULT '',
	result          TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS document_items (
	document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	branch_index  INTEGER NOT NULL,
	branch_tax_id TEXT NOT NULL DEFAULT '',
	seq           INTEGER NOT NULL,
	vendor_code   TEXT NOT NULL,
	internal_code TEXT NOT NULL DEFAULT '',
	quantity      INTEGER NOT NULL,
	unit_price    TEXT NOT NULL,
	line_total    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cross_references (
	vendor_code          TEXT NOT NULL,
	customer_tax_id      TEXT NOT NULL DEFAULT '',
	internal_code        TEXT NOT NULL,
	internal_description TEXT NOT NULL DEFAULT '',
	conversion_factor    TEXT NOT NULL DEFAULT '1',
	PRIMARY KEY (vendor_code, customer_tax_id)
);

CREATE TABLE IF NOT EXISTS customers (
	tax_id       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	municipality TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_issuer ON documents(issuer);
CREATE INDEX IF NOT EXISTS idx_document_items_document ON document_items(document_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, rec *model.DocumentRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, source, status, issuer, doc_subtype, document_number, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   source = excluded.source, status = excluded.status, issuer = excluded.issuer,
		   doc_subtype = excluded.doc_subtype, document_number = excluded.document_number,
		   result = excluded.result`,
		rec.ID, rec.Source, string(rec.Status), string(rec.Issuer), string(rec.Subtype),
		rec.DocumentNumber, string(resultJSON), createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert document %s", rec.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_items WHERE document_id = ?`, rec.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear items %s", rec.ID)
	}
	for _, r := range itemRows(rec.Result) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_items (document_id, branch_index, branch_tax_id, seq, vendor_code, internal_code, quantity, unit_price, line_total)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, r.branchIndex, r.branchTaxID, r.seq, r.vendorCode, r.internalCode,
			r.quantity, r.unitPrice.String(), r.lineTotal.String(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s/%d", rec.ID, r.seq)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, issuer, doc_subtype, document_number, result, created_at
		 FROM documents WHERE id = ?`,
		id,
	)
	rec, resultJSON, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		rec.Result = &model.ExtractionResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), rec.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return rec, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error) {
	query := `SELECT id, source, status, issuer, doc_subtype, document_number, NULL, created_at FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, string(filter.Issuer))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DocumentRecord
	for rows.Next() {
		rec, _, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) LookupCrossRef(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT vendor_code, customer_tax_id, internal_code, internal_description, conversion_factor
		 FROM cross_references WHERE vendor_code = ? AND customer_tax_id = ?`,
		vendorCode, customerTaxID,
	)

	var e model.CrossReferenceEntry
	var factor string
	err := row.Scan(&e.VendorCode, &e.CustomerTaxID, &e.InternalCode, &e.InternalDescription, &factor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup cross reference %s", vendorCode)
	}
	if e.ConversionFactor, err = decimal.NewFromString(factor); err != nil {
		return nil, eris.Wrapf(err, "sqlite: conversion factor for %s", vendorCode)
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertCrossRefs(ctx context.Context, entries []model.CrossReferenceEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cross_references (vendor_code, customer_tax_id, internal_code, internal_description, conversion_factor)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (vendor_code, customer_tax_id) DO UPDATE SET
		   internal_code = excluded.internal_code,
		   internal_description = excluded.internal_description,
		   conversion_factor = excluded.conversion_factor`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare cross reference upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.VendorCode, e.CustomerTaxID, e.InternalCode, e.InternalDescription, factorOrOne(e.ConversionFactor).String()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert cross reference %s", e.VendorCode)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit cross references")
	}
	return n, nil
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, taxID string) (*model.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tax_id, name, municipality, state FROM customers WHERE tax_id = ?`, taxID)

	var c model.Customer
	err := row.Scan(&c.TaxID, &c.Name, &c.Municipality, &c.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get customer %s", taxID)
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertCustomers(ctx context.Context, customers []model.Customer) (int64, error) {
	if len(customers) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, c := range customers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO customers (tax_id, name, municipality, state) VALUES (?, ?, ?, ?)
			 ON CONFLICT (tax_id) DO UPDATE SET
			   name = excluded.name, municipality = excluded.municipality, state = excluded.state`,
			c.TaxID, c.Name, c.Municipality, c.State,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert customer %s", c.TaxID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit customers")
	}
	return n, nil
}

func factorOrOne(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.DocumentRecord, sql.NullString, error) {
	var rec model.DocumentRecord
	var status, issuer, subtype string
	var resultJSON sql.NullString
	err := row.Scan(&rec.ID, &rec.Source, &status, &issuer, &subtype, &rec.DocumentNumber, &resultJSON, &rec.CreatedAt)
	if err != nil {
		return nil, resultJSON, err
	}
	rec.Status = model.ProcessState(status)
	rec.Issuer = model.Issuer(issuer)
	rec.Subtype = model.DocSubtype(subtype)
	return &rec, resultJSON, nil
}
