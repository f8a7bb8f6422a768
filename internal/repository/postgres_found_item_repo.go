package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresFoundItemRepo はPostgreSQLを使用した拾得物リポジトリ。
type PostgresFoundItemRepo struct {
	db *sql.DB
}

// NewPostgresFoundItemRepo はPostgresFoundItemRepoを生成する。
func NewPostgresFoundItemRepo(db *sql.DB) *PostgresFoundItemRepo {
	return &PostgresFoundItemRepo{db: db}
}

const foundItemColumns = `id, item_name, category, description, found_location, found_date,
	current_holding_location, reported_by, status, matched_with_lost_item, claimed_by, claimed_at,
	images, is_verified, verified_by, external_ref, created_at, updated_at`

func scanFoundItem(row interface{ Scan(...any) error }) (*model.FoundItem, error) {
	item := &model.FoundItem{}
	var status string
	var matched, claimedBy, verifiedBy, externalRef sql.NullString
	var claimedAt sql.NullTime
	var images pq.StringArray
	err := row.Scan(
		&item.ID, &item.ItemName, &item.Category, &item.Description, &item.FoundLocation, &item.FoundDate,
		&item.CurrentHoldingLocation, &item.ReportedBy, &status, &matched, &claimedBy, &claimedAt,
		&images, &item.IsVerified, &verifiedBy, &externalRef, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = model.FoundItemStatus(status)
	item.MatchedWithLostItem = nullStringPtr(matched)
	item.ClaimedBy = nullStringPtr(claimedBy)
	item.VerifiedBy = nullStringPtr(verifiedBy)
	item.ExternalRef = nullStringPtr(externalRef)
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Time
	}
	item.Images = []string(images)
	return item, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *PostgresFoundItemRepo) queryList(ctx context.Context, query string, args ...any) ([]*model.FoundItem, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query found items: %w", err)
	}
	defer rows.Close()

	var items []*model.FoundItem
	for rows.Next() {
		item, err := scanFoundItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan found item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresFoundItemRepo) findOne(ctx context.Context, where string, arg any) (*model.FoundItem, error) {
	item, err := scanFoundItem(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+foundItemColumns+` FROM found_items WHERE `+where, arg,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find found item: %w", err)
	}
	return item, nil
}

// FindByID は指定IDの拾得物を取得する。見つからない場合はnilを返す。
func (r *PostgresFoundItemRepo) FindByID(ctx context.Context, id string) (*model.FoundItem, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByExternalRef は掲示板エントリ識別子で拾得物を検索する。
func (r *PostgresFoundItemRepo) FindByExternalRef(ctx context.Context, ref string) (*model.FoundItem, error) {
	return r.findOne(ctx, "external_ref = $1", ref)
}

// Create は拾得物を作成する。external_refが重複する場合はErrDuplicateを返す。
func (r *PostgresFoundItemRepo) Create(ctx context.Context, item *model.FoundItem) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`INSERT INTO found_items (`+foundItemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		item.ID, item.ItemName, item.Category, item.Description, item.FoundLocation, item.FoundDate,
		item.CurrentHoldingLocation, item.ReportedBy, string(item.Status), item.MatchedWithLostItem,
		item.ClaimedBy, item.ClaimedAt, pq.Array(nonNil(item.Images)), item.IsVerified, item.VerifiedBy,
		item.ExternalRef, item.CreatedAt, item.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert found item: %w", err)
	}
	return nil
}

// List は条件に一致する拾得物を作成日時の降順で返す。
func (r *PostgresFoundItemRepo) List(ctx context.Context, filter model.FoundItemFilter) ([]*model.FoundItem, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Category != "" {
		add("lower(category) = lower($%d)", filter.Category)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if filter.ReportedBy != "" {
		add("reported_by = $%d", filter.ReportedBy)
	}
	if filter.Query != "" {
		add("(item_name ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+filter.Query+"%")
	}

	query := `SELECT ` + foundItemColumns + ` FROM found_items`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	page, args := pageClause(args, filter.Limit, filter.Offset)
	return r.queryList(ctx, query+page, args...)
}

// ListOpen はマッチング対象の拾得物を返す。
func (r *PostgresFoundItemRepo) ListOpen(ctx context.Context, category string, foundOnOrAfter time.Time) ([]*model.FoundItem, error) {
	query := `SELECT ` + foundItemColumns + ` FROM found_items
		 WHERE status IN ('pending', 'verified') AND matched_with_lost_item IS NULL`
	var args []any
	if category != "" {
		args = append(args, strings.TrimSpace(category))
		query += fmt.Sprintf(` AND lower(category) = lower($%d)`, len(args))
	}
	if !foundOnOrAfter.IsZero() {
		args = append(args, foundOnOrAfter)
		query += fmt.Sprintf(` AND found_date >= $%d`, len(args))
	}
	query += ` ORDER BY found_date DESC`
	return r.queryList(ctx, query, args...)
}

// LockToLost は未マッチかつ未返還の場合のみ紛失物に紐付ける。
func (r *PostgresFoundItemRepo) LockToLost(ctx context.Context, foundID, lostID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items SET matched_with_lost_item = $2, updated_at = $3
		 WHERE id = $1 AND matched_with_lost_item IS NULL AND status <> 'claimed'`,
		foundID, lostID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock found item: %w", err)
	}
	return affected(result)
}

// ReleaseMatch は紐付け先がlostIDの場合のみ紐付けを解除する。
func (r *PostgresFoundItemRepo) ReleaseMatch(ctx context.Context, foundID, lostID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items SET matched_with_lost_item = NULL, updated_at = $3
		 WHERE id = $1 AND matched_with_lost_item = $2`,
		foundID, lostID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release found item match: %w", err)
	}
	return affected(result)
}

// TransitionStatus は現在の状態がfromのいずれかの場合のみ状態を更新する。
func (r *PostgresFoundItemRepo) TransitionStatus(ctx context.Context, id string, from []model.FoundItemStatus, to model.FoundItemStatus, now time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = ANY($2)`,
		id, pq.Array(fromStrs), string(to), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update found item status: %w", err)
	}
	return affected(result)
}

// MarkClaimed は審査中の拾得物を返還済みにする。
func (r *PostgresFoundItemRepo) MarkClaimed(ctx context.Context, id, claimantID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items
		 SET status = 'claimed', claimed_by = $2, claimed_at = $3, updated_at = $3
		 WHERE id = $1 AND status = 'pending_claim'`,
		id, claimantID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark found item claimed: %w", err)
	}
	return affected(result)
}

// Verify は確認待ちの拾得物に確認結果を記録する。
func (r *PostgresFoundItemRepo) Verify(ctx context.Context, id, adminID string, approve bool, now time.Time) (bool, error) {
	status := model.FoundStatusRejected
	if approve {
		status = model.FoundStatusVerified
	}
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items
		 SET status = $2, is_verified = $3, verified_by = $4, updated_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), approve, adminID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to verify found item: %w", err)
	}
	return affected(result)
}

// AddImage は画像URIを追加する。
func (r *PostgresFoundItemRepo) AddImage(ctx context.Context, id, uri string, now time.Time) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE found_items SET images = array_append(images, $2), updated_at = $3 WHERE id = $1`,
		id, uri, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add found item image: %w", err)
	}
	return nil
}

// Delete は拾得物を削除する。
func (r *PostgresFoundItemRepo) Delete(ctx context.Context, id string) error {
	if _, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM found_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete found item: %w", err)
	}
	return nil
}

// CountByStatus は状態別の件数を返す。
func (r *PostgresFoundItemRepo) CountByStatus(ctx context.Context) (model.StatusCount, error) {
	return countByStatus(ctx, querier(ctx, r.db), "found_items")
}

var _ FoundItemRepository = (*PostgresFoundItemRepo)(nil)
