/*
Package sqlite provides the SQLite-backed LedgerStore.

PURPOSE:
  Persists demands and their detail lines. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  demands:        One row per billing record, keyed by demand id
  demand_details: Ledger lines, ordered by seq within their demand

ORDERING:
  The reconciliation engine's latest-line rule depends on append order,
  so every detail row carries a seq column and reads always order by it.
  Updates rewrite amounts in place by detail id and insert new lines at
  their slice position.

ATOMICITY:
  SaveDemands and UpdateDemands each run in a single transaction; a
  failed batch leaves the prior state untouched.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  sync := billing.NewSynchronizer(store, expiry, cfg)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Store implements billing.LedgerStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Demands (one row per billing record)
	CREATE TABLE IF NOT EXISTS demands (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		consumer_code TEXT NOT NULL,
		business_service TEXT NOT NULL,
		tax_period_from INTEGER NOT NULL,
		tax_period_to INTEGER NOT NULL,
		status TEXT NOT NULL,
		bill_expiry_time INTEGER NOT NULL,
		minimum_amount_payable TEXT NOT NULL,
		is_payment_completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_demands_lookup
		ON demands(tenant_id, consumer_code, business_service);

	CREATE INDEX IF NOT EXISTS idx_demands_period
		ON demands(tenant_id, tax_period_from, tax_period_to);

	-- Ledger lines. seq preserves append order within a demand; the
	-- latest-line rule depends on it.
	CREATE TABLE IF NOT EXISTS demand_details (
		id TEXT PRIMARY KEY,
		demand_id TEXT NOT NULL REFERENCES demands(id),
		tenant_id TEXT NOT NULL,
		tax_head_code TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		collection_amount TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_details_demand
		ON demand_details(demand_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchDemands returns demands matching the criteria, any status, with
// detail lines in append order.
func (s *Store) SearchDemands(ctx context.Context, criteria billing.DemandCriteria) ([]billing.Demand, error) {
	query := `SELECT id, tenant_id, consumer_code, business_service,
		tax_period_from, tax_period_to, status, bill_expiry_time,
		minimum_amount_payable, is_payment_completed
		FROM demands WHERE tenant_id = ?`
	args := []interface{}{criteria.TenantID}

	if criteria.BusinessService != "" {
		query += ` AND business_service = ?`
		args = append(args, criteria.BusinessService)
	}
	if len(criteria.ConsumerCodes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(criteria.ConsumerCodes)), ",")
		query += ` AND consumer_code IN (` + placeholders + `)`
		for _, code := range criteria.ConsumerCodes {
			args = append(args, code)
		}
	}
	if criteria.PeriodFrom != 0 || criteria.PeriodTo != 0 {
		query += ` AND tax_period_from = ? AND tax_period_to = ?`
		args = append(args, criteria.PeriodFrom, criteria.PeriodTo)
	}
	query += ` ORDER BY tax_period_from, consumer_code, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search demands: %w", err)
	}
	defer rows.Close()

	var demands []billing.Demand
	for rows.Next() {
		demand, err := scanDemand(rows)
		if err != nil {
			return nil, err
		}
		demands = append(demands, demand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range demands {
		details, err := s.loadDetails(ctx, demands[i].ID)
		if err != nil {
			return nil, err
		}
		demands[i].Details = details
	}
	return demands, nil
}

func (s *Store) loadDetails(ctx context.Context, demandID string) ([]billing.DemandDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, demand_id, tenant_id, tax_head_code, tax_amount, collection_amount
		 FROM demand_details WHERE demand_id = ? ORDER BY seq`, demandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load details: %w", err)
	}
	defer rows.Close()

	var details []billing.DemandDetail
	for rows.Next() {
		var detail billing.DemandDetail
		var head, tax, collected string
		if err := rows.Scan(&detail.ID, &detail.DemandID, &detail.TenantID,
			&head, &tax, &collected); err != nil {
			return nil, err
		}
		detail.TaxHeadCode = billing.TaxHeadCode(head)
		if detail.TaxAmount, err = decimal.NewFromString(tax); err != nil {
			return nil, fmt.Errorf("%w: tax amount %q on detail %s", billing.ErrParsing, tax, detail.ID)
		}
		if detail.CollectionAmount, err = decimal.NewFromString(collected); err != nil {
			return nil, fmt.Errorf("%w: collection amount %q on detail %s", billing.ErrParsing, collected, detail.ID)
		}
		details = append(details, detail)
	}
	return details, rows.Err()
}

// =============================================================================
// WRITES
// =============================================================================

// SaveDemands inserts the batch atomically, assigning identifiers.
func (s *Store) SaveDemands(ctx context.Context, demands []billing.Demand) ([]billing.Demand, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	saved := make([]billing.Demand, 0, len(demands))
	for _, demand := range demands {
		demand.ID = uuid.NewString()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO demands (id, tenant_id, consumer_code, business_service,
				tax_period_from, tax_period_to, status, bill_expiry_time,
				minimum_amount_payable, is_payment_completed, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			demand.ID, demand.TenantID, demand.ConsumerCode, demand.BusinessService,
			demand.TaxPeriodFrom, demand.TaxPeriodTo, string(demand.Status),
			demand.BillExpiryTime, demand.MinimumAmountPayable.String(),
			demand.IsPaymentCompleted, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert demand: %w", err)
		}

		for i := range demand.Details {
			demand.Details[i].ID = uuid.NewString()
			demand.Details[i].DemandID = demand.ID
			if err := insertDetail(ctx, tx, demand.Details[i], i, now); err != nil {
				return nil, err
			}
		}
		saved = append(saved, demand)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// UpdateDemands rewrites the batch atomically. Demand fields and existing
// line amounts are updated in place; lines without an id are new and get
// inserted at their slice position.
func (s *Store) UpdateDemands(ctx context.Context, demands []billing.Demand) ([]billing.Demand, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	updated := make([]billing.Demand, 0, len(demands))
	for _, demand := range demands {
		res, err := tx.ExecContext(ctx,
			`UPDATE demands SET status = ?, bill_expiry_time = ?,
				minimum_amount_payable = ?, is_payment_completed = ?, updated_at = ?
			 WHERE id = ?`,
			string(demand.Status), demand.BillExpiryTime,
			demand.MinimumAmountPayable.String(), demand.IsPaymentCompleted,
			now, demand.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update demand: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("demand %s: %w", demand.ID, billing.ErrNoMatchingDemand)
		}

		for i := range demand.Details {
			detail := &demand.Details[i]
			if detail.ID == "" {
				detail.ID = uuid.NewString()
				detail.DemandID = demand.ID
				if err := insertDetail(ctx, tx, *detail, i, now); err != nil {
					return nil, err
				}
				continue
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE demand_details SET tax_amount = ?, collection_amount = ?, seq = ?
				 WHERE id = ?`,
				detail.TaxAmount.String(), detail.CollectionAmount.String(), i, detail.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to update detail: %w", err)
			}
		}
		updated = append(updated, demand)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func insertDetail(ctx context.Context, tx *sql.Tx, detail billing.DemandDetail, seq int, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO demand_details (id, demand_id, tenant_id, tax_head_code,
			tax_amount, collection_amount, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		detail.ID, detail.DemandID, detail.TenantID, string(detail.TaxHeadCode),
		detail.TaxAmount.String(), detail.CollectionAmount.String(), seq, now)
	if err != nil {
		return fmt.Errorf("failed to insert detail: %w", err)
	}
	return nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanDemand(rows *sql.Rows) (billing.Demand, error) {
	var demand billing.Demand
	var status, minimum string
	if err := rows.Scan(&demand.ID, &demand.TenantID, &demand.ConsumerCode,
		&demand.BusinessService, &demand.TaxPeriodFrom, &demand.TaxPeriodTo,
		&status, &demand.BillExpiryTime, &minimum, &demand.IsPaymentCompleted); err != nil {
		return billing.Demand{}, err
	}
	demand.Status = billing.DemandStatus(status)

	payable, err := decimal.NewFromString(minimum)
	if err != nil {
		return billing.Demand{}, fmt.Errorf("%w: minimum payable %q on demand %s",
			billing.ErrParsing, minimum, demand.ID)
	}
	demand.MinimumAmountPayable = payable
	return demand, nil
}
