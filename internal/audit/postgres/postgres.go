// Package postgres mirrors discrepancy records into Postgres for operator
// queries (spec §4.5 discrepancy log): the manifest itself is the
// authoritative, content-addressed record of every discrepancy resolved
// during an ingest, but a flat per-version list is awkward to query by
// accession or by resolution kind across many versions, so this package
// gives operators a queryable side index. It is optional and never
// consulted by ingest or assembly — a missing or unreachable Postgres
// never blocks a core operation.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prn-tf/sequoia/internal/discrepancy"
	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

// DB wraps a pgx connection pool, mirroring the teacher's *postgres.DB
// threaded into its repositories as `db.Pool`.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pooled connection to dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, sequoiaerr.BackendIO("open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sequoiaerr.BackendIO("ping postgres", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

// Schema is the DDL operators apply before pointing a Store at a fresh
// database. It is not executed automatically, mirroring the teacher's
// migrations being a deploy-time concern rather than something the
// repository layer runs itself.
const Schema = `
CREATE TABLE IF NOT EXISTS discrepancies (
	id             BIGSERIAL PRIMARY KEY,
	version_id     TEXT NOT NULL,
	accession      TEXT NOT NULL,
	header_taxon   BIGINT NOT NULL,
	mapping_taxon  BIGINT NOT NULL,
	tree_taxon     BIGINT NOT NULL,
	resolution     TEXT NOT NULL,
	resolved_taxon BIGINT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS discrepancies_accession_idx ON discrepancies (accession);
CREATE INDEX IF NOT EXISTS discrepancies_version_idx ON discrepancies (version_id);
`

// Store mirrors discrepancy.Discrepancy records keyed by the manifest
// version_id they were resolved under.
type Store struct {
	db *DB
}

// NewStore creates a Store backed by db.
func NewStore(db *DB) *Store { return &Store{db: db} }

// Record inserts one discrepancy row for versionID.
func (s *Store) Record(ctx context.Context, versionID string, d discrepancy.Discrepancy) error {
	query := `
		INSERT INTO discrepancies
			(version_id, accession, header_taxon, mapping_taxon, tree_taxon, resolution, resolved_taxon)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Pool.Exec(ctx, query,
		versionID, d.Accession,
		int64(d.HeaderTaxon), int64(d.MappingTaxon), int64(d.TreeTaxon),
		string(d.Resolution), int64(d.Resolved),
	)
	if err != nil {
		return fmt.Errorf("record discrepancy: %w", err)
	}
	return nil
}

// RecordAll is a convenience wrapper for IngestSession.Finalize's full
// discrepancy batch.
func (s *Store) RecordAll(ctx context.Context, versionID string, ds []discrepancy.Discrepancy) error {
	for _, d := range ds {
		if err := s.Record(ctx, versionID, d); err != nil {
			return err
		}
	}
	return nil
}

// Row is one persisted discrepancy, resolved back into its typed form.
type Row struct {
	VersionID   string
	Discrepancy discrepancy.Discrepancy
}

// ListByAccession returns every discrepancy ever recorded for accession,
// most recent first.
func (s *Store) ListByAccession(ctx context.Context, accession string) ([]Row, error) {
	query := `
		SELECT version_id, accession, header_taxon, mapping_taxon, tree_taxon, resolution, resolved_taxon
		FROM discrepancies
		WHERE accession = $1
		ORDER BY recorded_at DESC
	`
	rows, err := s.db.Pool.Query(ctx, query, accession)
	if err != nil {
		return nil, fmt.Errorf("list discrepancies by accession: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			versionID                                 string
			acc, resolution                           string
			header, mapping, tree, resolved           int64
		)
		if err := rows.Scan(&versionID, &acc, &header, &mapping, &tree, &resolution, &resolved); err != nil {
			return nil, fmt.Errorf("scan discrepancy row: %w", err)
		}
		out = append(out, Row{
			VersionID: versionID,
			Discrepancy: discrepancy.Discrepancy{
				Accession:    acc,
				HeaderTaxon:  hashid.TaxonId(header),
				MappingTaxon: hashid.TaxonId(mapping),
				TreeTaxon:    hashid.TaxonId(tree),
				Resolution:   discrepancy.Resolution(resolution),
				Resolved:     hashid.TaxonId(resolved),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discrepancy rows: %w", err)
	}
	return out, nil
}

// ListByVersion returns every discrepancy recorded under versionID.
func (s *Store) ListByVersion(ctx context.Context, versionID string) ([]discrepancy.Discrepancy, error) {
	query := `
		SELECT accession, header_taxon, mapping_taxon, tree_taxon, resolution, resolved_taxon
		FROM discrepancies
		WHERE version_id = $1
		ORDER BY id ASC
	`
	rows, err := s.db.Pool.Query(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("list discrepancies by version: %w", err)
	}
	defer rows.Close()

	var out []discrepancy.Discrepancy
	for rows.Next() {
		var (
			acc, resolution                 string
			header, mapping, tree, resolved int64
		)
		if err := rows.Scan(&acc, &header, &mapping, &tree, &resolution, &resolved); err != nil {
			return nil, fmt.Errorf("scan discrepancy row: %w", err)
		}
		out = append(out, discrepancy.Discrepancy{
			Accession:    acc,
			HeaderTaxon:  hashid.TaxonId(header),
			MappingTaxon: hashid.TaxonId(mapping),
			TreeTaxon:    hashid.TaxonId(tree),
			Resolution:   discrepancy.Resolution(resolution),
			Resolved:     hashid.TaxonId(resolved),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discrepancy rows: %w", err)
	}
	return out, nil
}

// errNoRows is returned by LatestVersion when no discrepancy has ever
// been recorded, mirroring the teacher's pgx.ErrNoRows-to-domain-error
// translation in accesskey_repo.go.
var errNoRows = errors.New("postgres: no discrepancy rows")

// LatestVersion returns the most recently recorded version_id across all
// discrepancies, used by operators checking whether the mirror is caught
// up with the version store.
func (s *Store) LatestVersion(ctx context.Context) (string, error) {
	var versionID string
	err := s.db.Pool.QueryRow(ctx, `SELECT version_id FROM discrepancies ORDER BY recorded_at DESC LIMIT 1`).Scan(&versionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errNoRows
		}
		return "", fmt.Errorf("latest discrepancy version: %w", err)
	}
	return versionID, nil
}
