package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/faultline/internal/model"
)

// InsertEventBatch appends a batch of event records in a single transaction.
// If any individual record fails, the batch is rolled back and retried
// record-by-record to salvage as many records as possible.
func (s *Store) InsertEventBatch(records []*model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, records)
	if err == nil {
		return nil
	}

	// Batch failed, retry record-by-record to salvage what we can.
	var failed int
	for _, r := range records {
		if rerr := s.insertBatchTx(ctx, []*model.EventRecord{r}); rerr != nil {
			failed++
			log.Printf("store: dropping record (tenant=%s msg=%.80s): %v", r.Tenant, r.Message, rerr)
		}
	}
	if failed > 0 {
		log.Printf("store: batch partially failed, %d/%d records dropped", failed, len(records))
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, records []*model.EventRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events
		(event_id, tenant, service, host, logger, severity, timestamp, received_at,
		 message, exception_type, exception_message, stack_trace, metadata,
		 cluster_id, template, category, fp_exact, fp_template, fp_semantic, fp_category, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		metaJSON := []byte("{}")
		if len(r.Metadata) > 0 {
			if data, merr := json.Marshal(r.Metadata); merr != nil {
				log.Printf("store: failed to marshal metadata, using empty: %v", merr)
			} else {
				metaJSON = data
			}
		}

		if _, err := stmt.ExecContext(
			ctx,
			r.EventID, r.Tenant, r.Service, r.Host, r.Logger, r.Severity,
			r.Timestamp, r.ReceivedAt, r.Message,
			r.ExceptionType, r.ExceptionMessage, r.StackTrace, string(metaJSON),
			r.ClusterID, r.Template, string(r.Category),
			r.Fingerprints.Exact.String(), r.Fingerprints.Template.String(),
			r.Fingerprints.Semantic.String(), r.Fingerprints.Category.String(),
			r.Truncated,
		); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// UpsertClusters writes cluster aggregates, replacing the mutable columns
// of rows that already exist. First seen only ever moves backwards.
func (s *Store) UpsertClusters(clusters []*model.Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO clusters
		(id, tenant, service, fp_template, template, category, first_seen, last_seen, occurrences, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_seen   = excluded.last_seen,
			occurrences = excluded.occurrences,
			samples     = excluded.samples,
			first_seen  = LEAST(clusters.first_seen, excluded.first_seen)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range clusters {
		samplesJSON := []byte("[]")
		if len(c.Samples) > 0 {
			if data, merr := json.Marshal(c.Samples); merr != nil {
				log.Printf("store: failed to marshal samples, using empty: %v", merr)
			} else {
				samplesJSON = data
			}
		}

		if _, err := stmt.ExecContext(
			ctx,
			c.ID, c.Tenant, c.Service, c.TemplateFingerprint.String(),
			c.Template, string(c.Category),
			nullableTime(c.FirstSeen), nullableTime(c.LastSeen),
			c.Occurrences, string(samplesJSON),
		); err != nil {
			return fmt.Errorf("cluster upsert (%s): %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
