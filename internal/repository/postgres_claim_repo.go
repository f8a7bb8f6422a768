package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresClaimRepo はPostgreSQLを使用した返還申請リポジトリ。
type PostgresClaimRepo struct {
	db *sql.DB
}

// NewPostgresClaimRepo はPostgresClaimRepoを生成する。
func NewPostgresClaimRepo(db *sql.DB) *PostgresClaimRepo {
	return &PostgresClaimRepo{db: db}
}

const claimColumns = `id, found_item_id, lost_item_id, claimant_id, ownership_proof, contact_details, status,
	admin_notes, processed_by, processed_at, cancellation_reason, created_at, updated_at`

func scanClaim(row interface{ Scan(...any) error }) (*model.ClaimRequest, error) {
	c := &model.ClaimRequest{}
	var status string
	var lostID, processedBy sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.FoundItemID, &lostID, &c.ClaimantID, &c.OwnershipProof, &c.ContactDetails, &status,
		&c.AdminNotes, &processedBy, &processedAt, &c.CancellationReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.ClaimStatus(status)
	c.LostItemID = nullStringPtr(lostID)
	c.ProcessedBy = nullStringPtr(processedBy)
	if processedAt.Valid {
		c.ProcessedAt = &processedAt.Time
	}
	return c, nil
}

func (r *PostgresClaimRepo) queryList(ctx context.Context, query string, args ...any) ([]*model.ClaimRequest, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []*model.ClaimRequest
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresClaimRepo) FindByID(ctx context.Context, id string) (*model.ClaimRequest, error) {
	c, err := scanClaim(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claim_requests WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find claim by ID: %w", err)
	}
	return c, nil
}

// FindActiveByClaimant は同一申請者の pending または approved の申請を返す。
func (r *PostgresClaimRepo) FindActiveByClaimant(ctx context.Context, foundID, claimantID string) (*model.ClaimRequest, error) {
	c, err := scanClaim(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claim_requests
		 WHERE found_item_id = $1 AND claimant_id = $2 AND status IN ('pending', 'approved')`,
		foundID, claimantID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active claim: %w", err)
	}
	return c, nil
}

// Create は申請を作成する。
func (r *PostgresClaimRepo) Create(ctx context.Context, c *model.ClaimRequest) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`INSERT INTO claim_requests (`+claimColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.FoundItemID, c.LostItemID, c.ClaimantID, c.OwnershipProof, c.ContactDetails, string(c.Status),
		c.AdminNotes, c.ProcessedBy, c.ProcessedAt, c.CancellationReason, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// List は条件に一致する申請を作成日時の降順で返す。
func (r *PostgresClaimRepo) List(ctx context.Context, filter model.ClaimFilter) ([]*model.ClaimRequest, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ClaimantID != "" {
		add("claimant_id = $%d", filter.ClaimantID)
	}
	if filter.FoundItemID != "" {
		add("found_item_id = $%d", filter.FoundItemID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + claimColumns + ` FROM claim_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	page, args := pageClause(args, filter.Limit, filter.Offset)
	return r.queryList(ctx, query+page, args...)
}

// CountPending は拾得物に対する審査中の申請数を返す。
func (r *PostgresClaimRepo) CountPending(ctx context.Context, foundID, excludeID string) (int, error) {
	var n int
	err := querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claim_requests
		 WHERE found_item_id = $1 AND status = 'pending' AND ($2 = '' OR id::text <> $2)`,
		foundID, excludeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending claims: %w", err)
	}
	return n, nil
}

// CountApproved は拾得物または紛失物に紐付く承認済み申請数を返す。
func (r *PostgresClaimRepo) CountApproved(ctx context.Context, foundID, lostID string) (int, error) {
	var n int
	err := querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claim_requests
		 WHERE status = 'approved'
		   AND (($1 <> '' AND found_item_id::text = $1) OR ($2 <> '' AND lost_item_id::text = $2))`,
		foundID, lostID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approved claims: %w", err)
	}
	return n, nil
}

// Process は審査中の申請に審査結果を記録する。
func (r *PostgresClaimRepo) Process(ctx context.Context, id string, to model.ClaimStatus, adminID, notes string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE claim_requests
		 SET status = $2, processed_by = $3, admin_notes = $4, processed_at = $5, updated_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, string(to), adminID, notes, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to process claim: %w", err)
	}
	return affected(result)
}

// Cancel は審査中の申請を取り下げる。
func (r *PostgresClaimRepo) Cancel(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE claim_requests
		 SET status = 'canceled', cancellation_reason = $2, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, reason, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel claim: %w", err)
	}
	return affected(result)
}

// RejectOtherPending は拾得物に対する他の審査中の申請を却下し、却下した申請を返す。
func (r *PostgresClaimRepo) RejectOtherPending(ctx context.Context, foundID, exceptID, adminID, notes string, now time.Time) ([]*model.ClaimRequest, error) {
	return r.queryList(ctx,
		`UPDATE claim_requests
		 SET status = 'rejected', processed_by = $3, admin_notes = $4, processed_at = $5, updated_at = $5
		 WHERE found_item_id = $1 AND id <> $2 AND status = 'pending'
		 RETURNING `+claimColumns,
		foundID, exceptID, adminID, notes, now,
	)
}

// CountByStatus は状態別の件数を返す。
func (r *PostgresClaimRepo) CountByStatus(ctx context.Context) (model.StatusCount, error) {
	return countByStatus(ctx, querier(ctx, r.db), "claim_requests")
}

var _ ClaimRepository = (*PostgresClaimRepo)(nil)
