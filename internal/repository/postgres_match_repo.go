package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresMatchRepo はPostgreSQLを使用したマッチリポジトリ。
type PostgresMatchRepo struct {
	db *sql.DB
}

// NewPostgresMatchRepo はPostgresMatchRepoを生成する。
func NewPostgresMatchRepo(db *sql.DB) *PostgresMatchRepo {
	return &PostgresMatchRepo{db: db}
}

const matchColumns = `id, lost_item_id, found_item_id, match_type, score, status, matched_by, created_at, updated_at`

func scanMatch(row interface{ Scan(...any) error }) (*model.Match, error) {
	m := &model.Match{}
	var matchType, status string
	var matchedBy sql.NullString
	err := row.Scan(&m.ID, &m.LostItemID, &m.FoundItemID, &matchType, &m.Score, &status, &matchedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.MatchType = model.MatchType(matchType)
	m.Status = model.MatchStatus(status)
	m.MatchedBy = nullStringPtr(matchedBy)
	return m, nil
}

// FindByID は指定IDのマッチを取得する。見つからない場合はnilを返す。
func (r *PostgresMatchRepo) FindByID(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match by ID: %w", err)
	}
	return m, nil
}

// FindActiveByPair は指定ペアの却下されていないマッチを返す。
func (r *PostgresMatchRepo) FindActiveByPair(ctx context.Context, lostID, foundID string) (*model.Match, error) {
	m, err := scanMatch(querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE lost_item_id = $1 AND found_item_id = $2 AND status <> 'rejected'`,
		lostID, foundID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active match: %w", err)
	}
	return m, nil
}

// Create はマッチを作成する。
func (r *PostgresMatchRepo) Create(ctx context.Context, m *model.Match) error {
	_, err := querier(ctx, r.db).ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.LostItemID, m.FoundItemID, string(m.MatchType), m.Score, string(m.Status), m.MatchedBy,
		m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

// List は条件に一致するマッチを作成日時の降順で返す。
func (r *PostgresMatchRepo) List(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.MatchType != "" {
		add("match_type = $%d", string(filter.MatchType))
	}
	if filter.LostItemID != "" {
		add("lost_item_id = $%d", filter.LostItemID)
	}
	if filter.FoundItemID != "" {
		add("found_item_id = $%d", filter.FoundItemID)
	}

	query := `SELECT ` + matchColumns + ` FROM matches`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	page, args := pageClause(args, filter.Limit, filter.Offset)

	rows, err := querier(ctx, r.db).QueryContext(ctx, query+page, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// TransitionStatus は現在の状態がfromの場合のみ状態を更新する。
func (r *PostgresMatchRepo) TransitionStatus(ctx context.Context, id string, from, to model.MatchStatus, now time.Time) (bool, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE matches SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update match status: %w", err)
	}
	return affected(result)
}

// RejectCompeting はlostIDまたはfoundIDに関わる有効なマッチのうちkeepID以外を却下する。
func (r *PostgresMatchRepo) RejectCompeting(ctx context.Context, lostID, foundID, keepID string, now time.Time) (int, error) {
	result, err := querier(ctx, r.db).ExecContext(ctx,
		`UPDATE matches SET status = 'rejected', updated_at = $4
		 WHERE (lost_item_id = $1 OR found_item_id = $2) AND id <> $3 AND status <> 'rejected'`,
		lostID, foundID, keepID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reject competing matches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// CountByStatus は状態別の件数を返す。
func (r *PostgresMatchRepo) CountByStatus(ctx context.Context) (model.StatusCount, error) {
	return countByStatus(ctx, querier(ctx, r.db), "matches")
}

var _ MatchRepository = (*PostgresMatchRepo)(nil)
