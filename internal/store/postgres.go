package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/order-intake/internal/db"
	"github.com/sells-group/order-intake/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection and executed by
// name. The resolver calls lookup_cross_ref up to four times per distinct code.
var preparedStatements = map[string]string{
	"lookup_cross_ref": `SELECT vendor_code, customer_tax_id, internal_code, internal_description, conversion_factor::text
		FROM cross_references WHERE vendor_code = $1 AND customer_tax_id = $2`,
	"get_customer": `SELECT tax_id, name, municipality, state FROM customers WHERE tax_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	issuer          TEXT NOT NULL DEFAULT '',
	doc_subtype     TEXT NOT NULL DEFAULT '',
	document_number TEXT NOT NULL DEFAULT '',
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_items (
	document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	branch_index  INTEGER NOT NULL,
	branch_tax_id TEXT NOT NULL DEFAULT '',
	seq           INTEGER NOT NULL,
	vendor_code   TEXT NOT NULL,
	internal_code TEXT NOT NULL DEFAULT '',
	quantity      BIGINT NOT NULL,
	unit_price    NUMERIC(18,4) NOT NULL,
	line_total    NUMERIC(18,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS cross_references (
	vendor_code          TEXT NOT NULL,
	customer_tax_id      TEXT NOT NULL DEFAULT '',
	internal_code        TEXT NOT NULL,
	internal_description TEXT NOT NULL DEFAULT '',
	conversion_factor    NUMERIC(18,6) NOT NULL DEFAULT 1,
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
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_document_items_document ON document_items(document_id);
`

var itemColumns = []string{
	"document_id", "branch_index", "branch_tax_id", "seq", "vendor_code",
	"internal_code", "quantity", "unit_price", "line_total",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, rec *model.DocumentRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, source, status, issuer, doc_subtype, document_number, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   source = EXCLUDED.source, status = EXCLUDED.status, issuer = EXCLUDED.issuer,
		   doc_subtype = EXCLUDED.doc_subtype, document_number = EXCLUDED.document_number,
		   result = EXCLUDED.result`,
		rec.ID, rec.Source, string(rec.Status), string(rec.Issuer), string(rec.Subtype),
		rec.DocumentNumber, resultJSON, createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert document %s", rec.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_items WHERE document_id = $1`, rec.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear items %s", rec.ID)
	}

	items := itemRows(rec.Result)
	rows := make([][]any, len(items))
	for i, r := range items {
		rows[i] = []any{
			rec.ID, r.branchIndex, r.branchTaxID, r.seq, r.vendorCode, r.internalCode,
			r.quantity, r.unitPrice.InexactFloat64(), r.lineTotal.InexactFloat64(),
		}
	}
	if _, err := db.CopyFrom(ctx, tx, "document_items", itemColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy items %s", rec.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.DocumentRecord, error) {
	var rec model.DocumentRecord
	var status, issuer, subtype string
	var resultJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source, status, issuer, doc_subtype, document_number, result, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Source, &status, &issuer, &subtype, &rec.DocumentNumber, &resultJSON, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}

	rec.Status = model.ProcessState(status)
	rec.Issuer = model.Issuer(issuer)
	rec.Subtype = model.DocSubtype(subtype)
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		rec.Result = &model.ExtractionResult{}
		if err := json.Unmarshal(resultJSON, rec.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, issuer, doc_subtype, document_number, created_at
		 FROM documents
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR issuer = $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		string(filter.Status), string(filter.Issuer), filter.limit(), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var out []model.DocumentRecord
	for rows.Next() {
		var rec model.DocumentRecord
		var status, issuer, subtype string
		if err := rows.Scan(&rec.ID, &rec.Source, &status, &issuer, &subtype, &rec.DocumentNumber, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		rec.Status = model.ProcessState(status)
		rec.Issuer = model.Issuer(issuer)
		rec.Subtype = model.DocSubtype(subtype)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) LookupCrossRef(ctx context.Context, vendorCode, customerTaxID string) (*model.CrossReferenceEntry, error) {
	var e model.CrossReferenceEntry
	var factor string
	err := s.pool.QueryRow(ctx, "lookup_cross_ref", vendorCode, customerTaxID).Scan(&e.VendorCode, &e.CustomerTaxID, &e.InternalCode, &e.InternalDescription, &factor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup cross reference %s", vendorCode)
	}
	if e.ConversionFactor, err = decimal.NewFromString(factor); err != nil {
		return nil, eris.Wrapf(err, "postgres: conversion factor for %s", vendorCode)
	}
	return &e, nil
}

func (s *PostgresStore) UpsertCrossRefs(ctx context.Context, entries []model.CrossReferenceEntry) (int64, error) {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{
			e.VendorCode, e.CustomerTaxID, e.InternalCode, e.InternalDescription,
			factorOrOne(e.ConversionFactor).InexactFloat64(),
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "cross_references",
		Columns:      []string{"vendor_code", "customer_tax_id", "internal_code", "internal_description", "conversion_factor"},
		ConflictKeys: []string{"vendor_code", "customer_tax_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert cross references")
}

func (s *PostgresStore) GetCustomer(ctx context.Context, taxID string) (*model.Customer, error) {
	var c model.Customer
	err := s.pool.QueryRow(ctx, "get_customer", taxID).Scan(&c.TaxID, &c.Name, &c.Municipality, &c.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get customer %s", taxID)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertCustomers(ctx context.Context, customers []model.Customer) (int64, error) {
	rows := make([][]any, len(customers))
	for i, c := range customers {
		rows[i] = []any{c.TaxID, c.Name, c.Municipality, c.State}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "customers",
		Columns:      []string{"tax_id", "name", "municipality", "state"},
		ConflictKeys: []string{"tax_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert customers")
}
