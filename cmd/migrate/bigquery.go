package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// bigqueryRunner records applied versions in {dataset}.schema_migrations.
type bigqueryRunner struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

type appliedRow struct {
	Version   int64               `bigquery:"version"`
	Name      string              `bigquery:"name"`
	AppliedAt time.Time           `bigquery:"applied_at"`
	Checksum  bigquery.NullString `bigquery:"checksum"`
	AppliedBy bigquery.NullString `bigquery:"applied_by"`
}

func (r *bigqueryRunner) ledgerTable() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", r.projectID, r.datasetID)
}

// exec runs q to completion.
func (r *bigqueryRunner) exec(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("submitting job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID(), err)
	}
	return nil
}

func (r *bigqueryRunner) EnsureSchemaMigrationsTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version    INT64 NOT NULL,
		name       STRING NOT NULL,
		applied_at TIMESTAMP NOT NULL,
		checksum   STRING,
		applied_by STRING
	)`, r.ledgerTable())
	return r.exec(ctx, r.client.Query(ddl))
}

func (r *bigqueryRunner) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := r.client.Query(fmt.Sprintf(
		"SELECT version, name, applied_at, checksum, applied_by FROM %s ORDER BY version", r.ledgerTable()))
	it, err := q.Read(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row appliedRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading applied migrations: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the migration and then records it. BigQuery DDL is not
// transactional: a failure between the two leaves the migration
// unrecorded, so every migration is written to be rerun safely.
func (r *bigqueryRunner) Apply(ctx context.Context, m Migration) error {
	if err := r.exec(ctx, r.client.Query(m.SQL)); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	rec := r.client.Query(fmt.Sprintf(
		"INSERT INTO %s (version, name, applied_at, checksum, applied_by) "+
			"VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)", r.ledgerTable()))
	rec.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: r.appliedBy},
	}
	if err := r.exec(ctx, rec); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (r *bigqueryRunner) Close() error {
	return r.client.Close()
}
