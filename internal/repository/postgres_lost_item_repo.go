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

// PostgresLostItemRepo はPostgreSQLを使用した紛失物リポジトリ。
type PostgresLostItemRepo struct {
	db *sql.DB
}

// NewPostgresLostItemRepo はPostgresLostItemRepoを生成する。
func NewPostgresLostItemRepo(db *sql.DB) *PostgresLostItemRepo {
	return &PostgresLostItemRepo{db: db}
}

const lostItemColumns = `id, item_name, category, description, last_location, date_lost, reported_by,
	status, matched_with_found_item, found_reports, images, created_at, updated_at`

func scanLostItem(row interface{ Scan(...any) error }) (*model.LostItem, error) {
	item := &model.LostItem{}
	var status string
	var matched sql.NullString
	var reports, images pq.StringArray
	err := row.Scan(
		&item.ID, &item.ItemName, &item.Category, &item.Description, &item.LastLocation,
		&item.DateLost, &item.ReportedBy, &status, &matched, &reports, &images,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = model.LostItemStatus(status)
	if matched.Valid {
		item.MatchedWithFoundItem = &matched.String
	}
	item.FoundReports = []string(reports)
	item.Images = []string(images)
	return item, nil
}

func (r *PostgresLostItemRepo) queryList(ctx context.Context, query string, args ...any) ([]*model.LostItem, error) {
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lost items: %w", err)
	}
	defer rows.Close()

	var items []*model.LostItem
	for rows.Next() {
		item, err := scanLostItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lost item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindByID は指定IDの紛失物を取得する。見つからない場合はnilを返す。
func (r *PostgresLostItemRepo) FindByID(ctx context.Context, id string) (*model.LostItem, error) {
	item, err := scanLostItem(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+lostItemColumns+` FROM lost_items WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lost item by ID: %w", err)
	}
	return item, nil
}

// Create は紛失物を作成する。
func (r *PostgresLostItemRepo) Create(ctx context.Context, item *model.LostItem) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`INSERT INTO lost_items (`+lostItemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		item.ID, item.ItemName, item.Category, item.Description, item.LastLocation,
		item.DateLost, item.ReportedBy, string(item.Status), item.MatchedWithFoundItem,
		pq.Array(nonNil(item.FoundReports)), pq.Array(nonNil(item.Images)),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lost item: %w", err)
	}
	return nil
}

// List は条件に一致する紛失物を作成日時の降順で返す。
func (r *PostgresLostItemRepo) List(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Category != "" {
		add("lower(category) = lower($%d)", filter.Category)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ReportedBy != "" {
		add("reported_by = $%d", filter.ReportedBy)
	}
	if filter.Query != "" {
		add("(item_name ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+filter.Query+"%")
	}

	query := `SELECT ` + lostItemColumns + ` FROM lost_items`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	page, args := pageClause(args, filter.Limit, filter.Offset)
	return r.queryList(ctx, query+page, args...)
}

// ListOpenByCategory は自動マッチング対象の紛失物を返す。
func (r *PostgresLostItemRepo) ListOpenByCategory(ctx context.Context, category string) ([]*model.LostItem, error) {
	return r.queryList(ctx,
		`SELECT `+lostItemColumns+` FROM lost_items
		 WHERE lower(category) = lower($1)
		   AND status IN ('lost', 'foundReported')
		   AND matched_with_found_item IS NULL
		 ORDER BY date_lost DESC`,
		strings.TrimSpace(category),
	)
}

// AppendFoundReport は拾得物IDをfound_reportsに追加する。
func (r *PostgresLostItemRepo) AppendFoundReport(ctx context.Context, lostID, foundID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE lost_items
		 SET found_reports = array_append(found_reports, $2::uuid),
		     status = CASE WHEN status = 'lost' THEN 'foundReported' ELSE status END,
		     updated_at = $3
		 WHERE id = $1 AND NOT ($2::uuid = ANY(found_reports))`,
		lostID, foundID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append found report: %w", err)
	}
	return affected(result)
}

// LockToFound は未マッチかつ未解決の場合のみ拾得物に紐付ける。
func (r *PostgresLostItemRepo) LockToFound(ctx context.Context, lostID, foundID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE lost_items
		 SET matched_with_found_item = $2, status = 'pending_claim', updated_at = $3
		 WHERE id = $1 AND matched_with_found_item IS NULL
		   AND status IN ('lost', 'foundReported')`,
		lostID, foundID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock lost item: %w", err)
	}
	return affected(result)
}

// ReleaseMatch は紐付け先がfoundIDの場合のみ紐付けを解除する。
func (r *PostgresLostItemRepo) ReleaseMatch(ctx context.Context, lostID, foundID string, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE lost_items
		 SET matched_with_found_item = NULL,
		     status = CASE
		         WHEN status <> 'pending_claim' THEN status
		         WHEN cardinality(found_reports) > 0 THEN 'foundReported'
		         ELSE 'lost'
		     END,
		     updated_at = $3
		 WHERE id = $1 AND matched_with_found_item = $2`,
		lostID, foundID, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release lost item match: %w", err)
	}
	return affected(result)
}

// TransitionStatus は現在の状態がfromのいずれかの場合のみ状態を更新する。
func (r *PostgresLostItemRepo) TransitionStatus(ctx context.Context, id string, from []model.LostItemStatus, to model.LostItemStatus, now time.Time) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE lost_items SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = ANY($2)`,
		id, pq.Array(fromStrs), string(to), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update lost item status: %w", err)
	}
	return affected(result)
}

// AddImage は画像URIを追加する。
func (r *PostgresLostItemRepo) AddImage(ctx context.Context, id, uri string, now time.Time) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE lost_items SET images = array_append(images, $2), updated_at = $3 WHERE id = $1`,
		id, uri, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add lost item image: %w", err)
	}
	return nil
}

// Delete は紛失物を削除する。
func (r *PostgresLostItemRepo) Delete(ctx context.Context, id string) error {
	if _, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM lost_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete lost item: %w", err)
	}
	return nil
}

// CountByStatus は状態別の件数を返す。
func (r *PostgresLostItemRepo) CountByStatus(ctx context.Context) (model.StatusCount, error) {
	return countByStatus(ctx, querier(ctx, r.db), "lost_items")
}

// nonNil はnilスライスを空スライスに置き換える。
// pq.Arrayはnilを NULL として送るため、NOT NULL配列列に書き込む前に使用する。
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ LostItemRepository = (*PostgresLostItemRepo)(nil)
