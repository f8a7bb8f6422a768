package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hitoshi/lostfound/internal/imaging"
	"github.com/hitoshi/lostfound/internal/model"
)

// AttachLostImage は紛失物に画像を追加する。届出者本人または管理者のみ実行できる。
func (s *Service) AttachLostImage(ctx context.Context, lostID string, actor model.Actor, r io.Reader) (string, error) {
	if _, err := s.ownedLostItem(ctx, lostID, actor); err != nil {
		return "", err
	}
	uri, err := s.saveImage(ctx, r)
	if err != nil {
		return "", err
	}
	if err := s.lost.AddImage(ctx, lostID, uri, s.now()); err != nil {
		return "", fmt.Errorf("紛失物への画像追加に失敗しました: %w", err)
	}
	s.logger.InfoContext(ctx, "image attached", slog.String("lost_item_id", lostID), slog.String("uri", uri))
	return uri, nil
}

// AttachFoundImage は拾得物に画像を追加する。届出者本人または管理者のみ実行できる。
func (s *Service) AttachFoundImage(ctx context.Context, foundID string, actor model.Actor, r io.Reader) (string, error) {
	found, err := s.found.FindByID(ctx, foundID)
	if err != nil {
		return "", fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return "", model.NewFoundItemNotFoundError(foundID)
	}
	if found.ReportedBy != actor.UserID && !actor.IsAdmin() {
		return "", model.NewForbiddenError("この拾得物を操作する権限がありません。")
	}

	uri, err := s.saveImage(ctx, r)
	if err != nil {
		return "", err
	}
	if err := s.found.AddImage(ctx, foundID, uri, s.now()); err != nil {
		return "", fmt.Errorf("拾得物への画像追加に失敗しました: %w", err)
	}
	s.logger.InfoContext(ctx, "image attached", slog.String("found_item_id", foundID), slog.String("uri", uri))
	return uri, nil
}

// MaxImageBytes はアップロードできる画像の最大サイズを返す。
func (s *Service) MaxImageBytes() int64 {
	if s.images == nil {
		return 0
	}
	return s.images.MaxBytes()
}

func (s *Service) saveImage(ctx context.Context, r io.Reader) (string, error) {
	if s.images == nil || s.store == nil {
		return "", errors.New("画像の保存先が設定されていません")
	}
	data, err := s.images.Process(r)
	switch {
	case errors.Is(err, imaging.ErrTooLarge):
		return "", model.NewImageTooLargeError(s.images.MaxBytes())
	case errors.Is(err, imaging.ErrUnsupported):
		return "", model.NewInvalidImageError("対応していない形式です")
	case err != nil:
		return "", fmt.Errorf("画像の変換に失敗しました: %w", err)
	}

	uri, err := s.store.Save(ctx, data)
	if err != nil {
		return "", fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return uri, nil
}
