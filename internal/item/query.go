package item

import (
	"context"
	"fmt"
	"slices"

	"github.com/hitoshi/lostfound/internal/model"
)

// publicFoundStatuses は一般利用者に公開する拾得物の状態。
// 確認待ちと却下済みは届出者本人と管理者にのみ見える。
var publicFoundStatuses = []model.FoundItemStatus{
	model.FoundStatusVerified,
	model.FoundStatusPendingClaim,
	model.FoundStatusClaimed,
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Stats は管理画面の集計値。
type Stats struct {
	LostItems  model.StatusCount
	FoundItems model.StatusCount
	Matches    model.StatusCount
	Claims     model.StatusCount
}

// GetLost は紛失物を返す。
func (s *Service) GetLost(ctx context.Context, id string) (*model.LostItem, error) {
	lost, err := s.lost.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
	}
	if lost == nil {
		return nil, model.NewLostItemNotFoundError(id)
	}
	return lost, nil
}

// ListLost は条件に一致する紛失物を返す。
func (s *Service) ListLost(ctx context.Context, filter model.LostItemFilter) ([]*model.LostItem, error) {
	filter.Limit = clampLimit(filter.Limit)
	items, err := s.lost.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("紛失物一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// GetFound は拾得物を返す。非公開の状態の拾得物は届出者本人と管理者以外には見つからない扱いにする。
func (s *Service) GetFound(ctx context.Context, id string, actor model.Actor) (*model.FoundItem, error) {
	found, err := s.found.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil || !visibleTo(found, actor) {
		return nil, model.NewFoundItemNotFoundError(id)
	}
	return found, nil
}

// ListFound は条件に一致する拾得物を返す。
// 管理者以外が他人の届出を含めて検索する場合は公開状態のものに限定する。
func (s *Service) ListFound(ctx context.Context, filter model.FoundItemFilter, actor model.Actor) ([]*model.FoundItem, error) {
	filter.Limit = clampLimit(filter.Limit)
	if !actor.IsAdmin() && filter.ReportedBy != actor.UserID {
		statuses := publicFoundStatuses
		if len(filter.Statuses) > 0 {
			statuses = nil
			for _, st := range filter.Statuses {
				if slices.Contains(publicFoundStatuses, st) {
					statuses = append(statuses, st)
				}
			}
			if len(statuses) == 0 {
				return []*model.FoundItem{}, nil
			}
		}
		filter.Statuses = statuses
	}

	items, err := s.found.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("拾得物一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// Stats は状態別の件数を集計する。
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.LostItems, err = s.lost.CountByStatus(ctx); err != nil {
		return nil, fmt.Errorf("紛失物の集計に失敗しました: %w", err)
	}
	if st.FoundItems, err = s.found.CountByStatus(ctx); err != nil {
		return nil, fmt.Errorf("拾得物の集計に失敗しました: %w", err)
	}
	if st.Matches, err = s.matches.CountByStatus(ctx); err != nil {
		return nil, fmt.Errorf("マッチの集計に失敗しました: %w", err)
	}
	if st.Claims, err = s.claims.CountByStatus(ctx); err != nil {
		return nil, fmt.Errorf("申請の集計に失敗しました: %w", err)
	}
	return &st, nil
}

func visibleTo(found *model.FoundItem, actor model.Actor) bool {
	return actor.IsAdmin() || found.ReportedBy == actor.UserID ||
		slices.Contains(publicFoundStatuses, found.Status)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
