package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/faultline/internal/model"
)

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// tenantFilter returns a WHERE clause and args when opts.Tenant is non-empty.
func tenantFilter(opts model.QueryOpts) (clause string, args []any) {
	if opts.Tenant != "" {
		return "WHERE tenant = ?", []any{opts.Tenant}
	}
	return "", nil
}

// TotalEventCount returns the number of persisted events.
func (s *Store) TotalEventCount(opts model.QueryOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := tenantFilter(opts)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events %s`, where)

	var count int64
	err := s.db.QueryRowContext(ctx, query, wArgs...).Scan(&count)
	return count, err
}

const clusterColumns = `id, tenant, service, fp_template, template, category,
	first_seen, last_seen, occurrences, samples`

// TopClusters returns clusters by descending occurrence count.
func (s *Store) TopClusters(limit int, opts model.QueryOpts) ([]*model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := tenantFilter(opts)
	query := fmt.Sprintf(`
		SELECT %s FROM clusters %s
		ORDER BY occurrences DESC, last_seen DESC
		LIMIT ?`, clusterColumns, where)

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			log.Printf("store scan error (TopClusters): %v", err)
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// ClusterByID returns one cluster or ErrNotFound.
func (s *Store) ClusterByID(id string) (*model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM clusters WHERE id = ?`, clusterColumns)
	row := s.db.QueryRowContext(ctx, query, id)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ClusterEvents returns the most recent events assigned to a cluster.
func (s *Store) ClusterEvents(clusterID string, limit int) ([]*model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tenant, service, host, logger, severity, timestamp, received_at,
			message, exception_type, exception_message, stack_trace, metadata,
			cluster_id, template, category,
			fp_exact, fp_template, fp_semantic, fp_category, truncated
		FROM events
		WHERE cluster_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, clusterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.EventRecord
	for rows.Next() {
		var r model.EventRecord
		var metaJSON, category string
		var fpExact, fpTemplate, fpSemantic, fpCategory string
		if err := rows.Scan(
			&r.EventID, &r.Tenant, &r.Service, &r.Host, &r.Logger, &r.Severity,
			&r.Timestamp, &r.ReceivedAt, &r.Message,
			&r.ExceptionType, &r.ExceptionMessage, &r.StackTrace, &metaJSON,
			&r.ClusterID, &r.Template, &category,
			&fpExact, &fpTemplate, &fpSemantic, &fpCategory, &r.Truncated,
		); err != nil {
			log.Printf("store scan error (ClusterEvents): %v", err)
			continue
		}
		r.Category = model.Category(category)
		r.Metadata = make(map[string]string)
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
				log.Printf("store: unparseable metadata for %s: %v", r.EventID, err)
			}
		}
		r.Fingerprints = model.FingerprintSet{
			Exact:    parseFingerprint(fpExact),
			Template: parseFingerprint(fpTemplate),
			Semantic: parseFingerprint(fpSemantic),
			Category: parseFingerprint(fpCategory),
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CategoryCounts returns the number of persisted events per error category.
func (s *Store) CategoryCounts(opts model.QueryOpts) (map[model.Category]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := tenantFilter(opts)
	query := fmt.Sprintf(`SELECT category, COUNT(*) FROM events %s GROUP BY category`, where)

	rows, err := s.db.QueryContext(ctx, query, wArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[model.Category]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			log.Printf("store scan error (CategoryCounts): %v", err)
			continue
		}
		result[model.Category(category)] = count
	}
	return result, rows.Err()
}

// LoadClusters returns every cluster row, used to warm the in-memory index
// at startup.
func (s *Store) LoadClusters() ([]*model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM clusters`, clusterColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			log.Printf("store scan error (LoadClusters): %v", err)
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// DeleteEventsBefore removes events older than cutoff and returns how many
// rows were deleted.
func (s *Store) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (*model.Cluster, error) {
	var c model.Cluster
	var fpTemplate, category string
	var samplesJSON string
	var firstSeen, lastSeen sql.NullTime
	if err := row.Scan(
		&c.ID, &c.Tenant, &c.Service, &fpTemplate, &c.Template, &category,
		&firstSeen, &lastSeen, &c.Occurrences, &samplesJSON,
	); err != nil {
		return nil, err
	}
	c.Category = model.Category(category)
	c.TemplateFingerprint = parseFingerprint(fpTemplate)
	if firstSeen.Valid {
		c.FirstSeen = firstSeen.Time
	}
	if lastSeen.Valid {
		c.LastSeen = lastSeen.Time
	}
	if samplesJSON != "" && samplesJSON != "[]" {
		if err := json.Unmarshal([]byte(samplesJSON), &c.Samples); err != nil {
			log.Printf("store: unparseable samples for %s: %v", c.ID, err)
		}
	}
	return &c, nil
}

// parseFingerprint tolerates rows written before fingerprints existed.
func parseFingerprint(hexString string) model.Fingerprint {
	fp, err := model.ParseFingerprint(hexString)
	if err != nil {
		return model.Fingerprint{}
	}
	return fp
}
