// File: internal/source/findingsdb/store.go
package findingsdb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/resolver"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Context properties owned by the scan resolver.
const (
	KeyScanID     = "scanId"
	KeyScanTarget = "scanTarget"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads findings persisted by the scanner and keeps the link table
// that records which tracker issue each finding was filed under.
type Store struct {
	pool    DBPool
	tracker string
	log     *zap.Logger
}

// New creates a new store instance and verifies the connection. tracker is
// the target name stored with every link, so one database can feed several
// trackers.
func New(ctx context.Context, pool DBPool, tracker string, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool:    pool,
		tracker: tracker,
		log:     logger.Named("findingsdb"),
	}, nil
}

const findingColumns = `f.id, f.scan_id, f.target, f.module, f.vulnerability_name, f.severity,
        f.description, f.recommendation, f.cwe, f.observed_at`

const (
	sqlRecords = `
        SELECT ` + findingColumns + `, COALESCE(l.locator, '')
        FROM findings f
        LEFT JOIN finding_issue_links l ON l.finding_id = f.id AND l.tracker = $2
        WHERE f.scan_id = $1
        ORDER BY f.observed_at ASC, f.id ASC;
    `
	sqlUnlinkedRecords = `
        SELECT ` + findingColumns + `, ''
        FROM findings f
        WHERE f.scan_id = $1
          AND NOT EXISTS (
            SELECT 1 FROM finding_issue_links l WHERE l.finding_id = f.id AND l.tracker = $2
          )
        ORDER BY f.observed_at ASC, f.id ASC;
    `
	sqlLinkedRecords = `
        SELECT ` + findingColumns + `, l.locator
        FROM findings f
        JOIN finding_issue_links l ON l.finding_id = f.id AND l.tracker = $2
        WHERE f.scan_id = $1
        ORDER BY l.locator ASC, f.observed_at ASC, f.id ASC;
    `
	sqlUpsertLink = `
        INSERT INTO finding_issue_links (finding_id, tracker, locator, linked_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (finding_id, tracker) DO UPDATE SET
            locator = EXCLUDED.locator,
            linked_at = EXCLUDED.linked_at;
    `
)

// Records implements schemas.RecordSource for the branch's scan.
func (s *Store) Records(ctx context.Context, b runcontext.Branch, q schemas.RecordQuery) iter.Seq2[schemas.Vulnerability, error] {
	query := sqlRecords
	if q.ExcludeSubmitted {
		query = sqlUnlinkedRecords
	}
	return s.stream(ctx, b, query)
}

// LinkedRecords implements schemas.LinkedRecordSource.
func (s *Store) LinkedRecords(ctx context.Context, b runcontext.Branch) iter.Seq2[schemas.Vulnerability, error] {
	return s.stream(ctx, b, sqlLinkedRecords)
}

func (s *Store) stream(ctx context.Context, b runcontext.Branch, query string) iter.Seq2[schemas.Vulnerability, error] {
	return func(yield func(schemas.Vulnerability, error) bool) {
		if b.Context.IsBlank(KeyScanID) {
			yield(schemas.Vulnerability{}, syncerr.Configuration("findings source", "%s is not resolved for branch %s", KeyScanID, b.Label()))
			return
		}
		scanID := b.Context.GetString(KeyScanID)

		rows, err := s.pool.Query(ctx, query, scanID, s.tracker)
		if err != nil {
			yield(schemas.Vulnerability{}, fmt.Errorf("failed to query findings: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanFinding(rows)
			if err != nil {
				yield(schemas.Vulnerability{}, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(schemas.Vulnerability{}, fmt.Errorf("error during row iteration: %w", err))
		}
	}
}

func scanFinding(rows pgx.Rows) (schemas.Vulnerability, error) {
	var (
		id, scanID, target, module, name, severity, locator string
		description, recommendation                         pgtype.Text
		cwe                                                 []string
		observedAt                                          time.Time
	)
	// findings.cwe is a text[] and the free-text columns are nullable.
	err := rows.Scan(&id, &scanID, &target, &module, &name, &severity,
		&description, &recommendation, &cwe, &observedAt, &locator)
	if err != nil {
		return schemas.Vulnerability{}, fmt.Errorf("failed to scan finding row: %w", err)
	}
	return schemas.Vulnerability{
		ID: id,
		Attributes: map[string]any{
			"scanId":         scanID,
			"target":         target,
			"module":         module,
			"category":       name,
			"severity":       severity,
			"description":    description.String,
			"recommendation": recommendation.String,
			"cwe":            cweList(cwe),
			"observedAt":     observedAt.UTC().Format(time.RFC3339),
		},
		BugLink: locator,
	}, nil
}

// cweList never returns nil, so templates can index and size the list of a
// finding stored without CWEs.
func cweList(cwe []string) []string {
	if cwe == nil {
		return []string{}
	}
	return cwe
}

// RecordLinks implements schemas.LinkRecorder. All links of one submission
// are written in a single transaction.
func (s *Store) RecordLinks(ctx context.Context, b runcontext.Branch, locator schemas.IssueLocator, records []schemas.Vulnerability) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	link := locator.String()
	now := time.Now().UTC()
	for _, r := range records {
		if _, err := tx.Exec(ctx, sqlUpsertLink, r.ID, s.tracker, link, now); err != nil {
			return fmt.Errorf("failed to link finding %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Recorded issue links", zap.Int("findings", len(records)), zap.String("locator", link))
	return nil
}

const (
	sqlRecentScans = `
        SELECT scan_id, MIN(target), MAX(observed_at) AS last_seen
        FROM findings
        WHERE observed_at >= $1
        GROUP BY scan_id
        ORDER BY last_seen DESC;
    `
	sqlScanTarget = `
        SELECT target FROM findings WHERE scan_id = $1 ORDER BY observed_at ASC LIMIT 1;
    `
)

// ScanResolver owns scanId. Without a value it expands to every scan that
// reported findings within window, newest first; with one it maps the scan's
// target. A zero window means no cutoff.
func (s *Store) ScanResolver(window time.Duration) *resolver.Resolver {
	expand := func(ctx context.Context, _ *runcontext.Context) ([]resolver.Candidate, error) {
		return s.recentScans(ctx, window)
	}
	return &resolver.Resolver{
		Property:       KeyScanID,
		Expander:       resolver.ExpanderFunc(expand),
		Mapper:         resolver.MapperFunc(s.mapScan),
		UseForDefaults: true,
	}
}

func (s *Store) recentScans(ctx context.Context, window time.Duration) ([]resolver.Candidate, error) {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window).UTC()
	}
	rows, err := s.pool.Query(ctx, sqlRecentScans, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scans: %w", err)
	}
	defer rows.Close()

	var out []resolver.Candidate
	for rows.Next() {
		var scanID, target string
		var lastSeen time.Time
		if err := rows.Scan(&scanID, &target, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		out = append(out, resolver.Candidate{Value: scanID, Properties: map[string]any{KeyScanTarget: target}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	s.log.Debug("Expanded scans", zap.Int("scans", len(out)), zap.Time("cutoff", cutoff))
	return out, nil
}

func (s *Store) mapScan(ctx context.Context, _ *runcontext.Context, value any) (map[string]any, error) {
	scanID := fmt.Sprint(value)
	rows, err := s.pool.Query(ctx, sqlScanTarget, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan %s: %w", scanID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query scan %s: %w", scanID, err)
		}
		return nil, syncerr.Configuration("map scan", "scan %s has no findings", scanID)
	}
	var target string
	if err := rows.Scan(&target); err != nil {
		return nil, fmt.Errorf("failed to scan scan row: %w", err)
	}
	return map[string]any{KeyScanTarget: target}, nil
}

// Options returns the context options of the findings source.
func Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: KeyScanID, Description: "Scan whose findings are synced; every recent scan is processed when omitted"},
	}
}
