package item

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/lostfound/internal/model"
)

// VerifyFound は確認待ちの拾得物を確認済みまたは却下にする。
func (s *Service) VerifyFound(ctx context.Context, foundID, adminID string, approve bool) (*model.FoundItem, error) {
	found, err := s.found.FindByID(ctx, foundID)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return nil, model.NewFoundItemNotFoundError(foundID)
	}
	if found.Status != model.FoundStatusPending {
		return nil, model.NewFoundItemNotPendingError(found.Status)
	}

	ok, err := s.found.Verify(ctx, foundID, adminID, approve, s.now())
	if err != nil {
		return nil, fmt.Errorf("拾得物の確認に失敗しました: %w", err)
	}
	if !ok {
		// 読み取り後に申請などで状態が変わった
		current, err := s.found.FindByID(ctx, foundID)
		if err != nil {
			return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
		}
		if current == nil {
			return nil, model.NewFoundItemNotFoundError(foundID)
		}
		return nil, model.NewFoundItemNotPendingError(current.Status)
	}

	s.logger.InfoContext(ctx, "found item verified",
		slog.String("found_item_id", foundID),
		slog.String("admin_id", adminID),
		slog.Bool("approved", approve),
	)
	return s.found.FindByID(ctx, foundID)
}

// MarkLostFound は届出者自身が見つけた紛失物を解決済みにする。
func (s *Service) MarkLostFound(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error) {
	lost, err := s.ownedLostItem(ctx, lostID, actor)
	if err != nil {
		return nil, err
	}
	if !lost.Status.IsOpen() {
		return nil, model.NewLostItemNotOpenError(lost.Status)
	}

	ok, err := s.lost.TransitionStatus(ctx, lostID,
		[]model.LostItemStatus{model.LostStatusLost, model.LostStatusFoundReported},
		model.LostStatusFound, s.now())
	if err != nil {
		return nil, fmt.Errorf("紛失物の更新に失敗しました: %w", err)
	}
	if !ok {
		current, err := s.lost.FindByID(ctx, lostID)
		if err != nil {
			return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
		}
		if current == nil {
			return nil, model.NewLostItemNotFoundError(lostID)
		}
		return nil, model.NewLostItemNotOpenError(current.Status)
	}

	s.logger.InfoContext(ctx, "lost item resolved by owner",
		slog.String("lost_item_id", lostID),
		slog.String("user_id", actor.UserID),
	)
	return s.lost.FindByID(ctx, lostID)
}

// DeleteLost は紛失物を削除する。届出者本人または管理者のみ実行できる。
// 承認済みの申請が紐付いている場合は削除しない。
func (s *Service) DeleteLost(ctx context.Context, lostID string, actor model.Actor) error {
	lost, err := s.ownedLostItem(ctx, lostID, actor)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.claims.CountApproved(ctx, "", lostID)
		if err != nil {
			return fmt.Errorf("承認済み申請の確認に失敗しました: %w", err)
		}
		if n > 0 {
			return model.NewItemHasActiveClaimError()
		}
		if lost.MatchedWithFoundItem != nil {
			if _, err := s.found.ReleaseMatch(ctx, *lost.MatchedWithFoundItem, lostID, s.now()); err != nil {
				return fmt.Errorf("拾得物の紐付け解除に失敗しました: %w", err)
			}
		}
		if err := s.lost.Delete(ctx, lostID); err != nil {
			return fmt.Errorf("紛失物の削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "lost item deleted",
		slog.String("lost_item_id", lostID),
		slog.String("user_id", actor.UserID),
	)
	return nil
}

// DeleteFound は拾得物を削除する。承認済みの申請がある場合は削除しない。
// 紐付いた紛失物は返還待ちから元の状態に戻す。
func (s *Service) DeleteFound(ctx context.Context, foundID, adminID string) error {
	found, err := s.found.FindByID(ctx, foundID)
	if err != nil {
		return fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return model.NewFoundItemNotFoundError(foundID)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.claims.CountApproved(ctx, foundID, "")
		if err != nil {
			return fmt.Errorf("承認済み申請の確認に失敗しました: %w", err)
		}
		if n > 0 {
			return model.NewItemHasActiveClaimError()
		}
		if found.MatchedWithLostItem != nil {
			if _, err := s.lost.ReleaseMatch(ctx, *found.MatchedWithLostItem, foundID, s.now()); err != nil {
				return fmt.Errorf("紛失物の紐付け解除に失敗しました: %w", err)
			}
		}
		if err := s.found.Delete(ctx, foundID); err != nil {
			return fmt.Errorf("拾得物の削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "found item deleted",
		slog.String("found_item_id", foundID),
		slog.String("admin_id", adminID),
	)
	return nil
}

// ownedLostItem は届出者本人または管理者が操作できる紛失物を返す。
func (s *Service) ownedLostItem(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error) {
	lost, err := s.lost.FindByID(ctx, lostID)
	if err != nil {
		return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
	}
	if lost == nil {
		return nil, model.NewLostItemNotFoundError(lostID)
	}
	if lost.ReportedBy != actor.UserID && !actor.IsAdmin() {
		return nil, model.NewForbiddenError("この紛失物を操作する権限がありません。")
	}
	return lost, nil
}
