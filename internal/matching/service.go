package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/notify"
	"github.com/hitoshi/lostfound/internal/repository"
)

// Notifier は通知の送信手段。notify.Notifierが満たす。
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Recorder はマッチング関連のメトリクスを記録する。
type Recorder interface {
	RecordProposal(score int)
	RecordProposalFailure()
	RecordMatchConfirmed()
	RecordMatchRejected()
}

type nopRecorder struct{}

func (nopRecorder) RecordProposal(int)     {}
func (nopRecorder) RecordProposalFailure() {}
func (nopRecorder) RecordMatchConfirmed()  {}
func (nopRecorder) RecordMatchRejected()   {}

// Deps はServiceの依存をまとめたもの。
type Deps struct {
	Tx        repository.TxManager
	Users     repository.UserRepository
	Lost      repository.LostItemRepository
	Found     repository.FoundItemRepository
	Matches   repository.MatchRepository
	Notifier  Notifier
	Templates *notify.Templates
	Recorder  Recorder
	Logger    *slog.Logger
}

// Service はマッチの自動提案・手動確定・却下・候補検索を提供する。
type Service struct {
	tx        repository.TxManager
	users     repository.UserRepository
	lost      repository.LostItemRepository
	found     repository.FoundItemRepository
	matches   repository.MatchRepository
	notifier  Notifier
	templates *notify.Templates
	recorder  Recorder
	logger    *slog.Logger

	scorer    *Scorer
	threshold int

	now   func() time.Time
	newID func() string
}

// NewService はServiceを生成する。
func NewService(deps Deps, scorer *Scorer, threshold int) *Service {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if scorer == nil {
		scorer = NewScorer(DefaultWeights())
	}
	return &Service{
		tx:        deps.Tx,
		users:     deps.Users,
		lost:      deps.Lost,
		found:     deps.Found,
		matches:   deps.Matches,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		scorer:    scorer,
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Threshold はマッチを保存するスコアの下限を返す。
func (s *Service) Threshold() int {
	return s.threshold
}

// MatchResult は手動確定の結果と通知の警告を表す。
type MatchResult struct {
	Match    *model.Match
	Warnings []string
}

// ConfirmMatch は管理者が紛失物と拾得物を手動でマッチさせる。
//
// 両アイテムの参照を条件付き更新で設定し、手動マッチを作成し、
// どちらかに関わる他の有効なマッチを却下する。これらは1トランザクションで行う。
// 紛失物の届出者への通知はコミット後に行い、失敗しても結果は変わらない。
func (s *Service) ConfirmMatch(ctx context.Context, lostID, foundID, adminID string) (*MatchResult, error) {
	lost, err := s.lost.FindByID(ctx, lostID)
	if err != nil {
		return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
	}
	if lost == nil {
		return nil, model.NewLostItemNotFoundError(lostID)
	}
	found, err := s.found.FindByID(ctx, foundID)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return nil, model.NewFoundItemNotFoundError(foundID)
	}
	if found.Status == model.FoundStatusClaimed {
		return nil, model.NewFoundItemAlreadyClaimedError()
	}
	if lost.MatchedWithFoundItem != nil {
		return nil, model.NewLostItemAlreadyMatchedError()
	}
	if found.MatchedWithLostItem != nil {
		return nil, model.NewFoundItemAlreadyMatchedError()
	}
	if !lost.Status.IsOpen() {
		return nil, model.NewLostItemNotOpenError(lost.Status)
	}

	now := s.now()
	match := &model.Match{
		ID:          s.newID(),
		LostItemID:  lostID,
		FoundItemID: foundID,
		MatchType:   model.MatchTypeManual,
		Status:      model.MatchStatusPending,
		MatchedBy:   &adminID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var superseded int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.lost.LockToFound(ctx, lostID, foundID, now)
		if err != nil {
			return fmt.Errorf("紛失物の紐付けに失敗しました: %w", err)
		}
		if !ok {
			return s.lostLockConflict(ctx, lostID)
		}

		ok, err = s.found.LockToLost(ctx, foundID, lostID, now)
		if err != nil {
			return fmt.Errorf("拾得物の紐付けに失敗しました: %w", err)
		}
		if !ok {
			return s.foundLockConflict(ctx, foundID)
		}

		// 新しいマッチのIDはまだ存在しないため、同じペアの提案も含めて却下される
		superseded, err = s.matches.RejectCompeting(ctx, lostID, foundID, match.ID, now)
		if err != nil {
			return fmt.Errorf("競合するマッチの却下に失敗しました: %w", err)
		}

		if err := s.matches.Create(ctx, match); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewLostItemAlreadyMatchedError()
			}
			return fmt.Errorf("マッチの作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordMatchConfirmed()
	s.logger.InfoContext(ctx, "match confirmed",
		slog.String("match_id", match.ID),
		slog.String("lost_item_id", lostID),
		slog.String("found_item_id", foundID),
		slog.String("admin_id", adminID),
		slog.Int("superseded", superseded),
	)

	result := &MatchResult{Match: match}
	lost.MatchedWithFoundItem = &foundID
	lost.Status = model.LostStatusPendingClaim
	if w := s.notifyMatchConfirmed(ctx, lost, found); w != "" {
		result.Warnings = append(result.Warnings, w)
	}
	return result, nil
}

// foundLockConflict は拾得物の紐付けに失敗した理由を再取得して判定する。
// lostLockConflict は紐付けに失敗した紛失物を再取得し、失敗の理由に応じたエラーを返す。
func (s *Service) lostLockConflict(ctx context.Context, lostID string) error {
	current, err := s.lost.FindByID(ctx, lostID)
	if err != nil {
		return fmt.Errorf("紛失物の再取得に失敗しました: %w", err)
	}
	if current == nil {
		return model.NewLostItemNotFoundError(lostID)
	}
	if current.MatchedWithFoundItem == nil && !current.Status.IsOpen() {
		return model.NewLostItemNotOpenError(current.Status)
	}
	return model.NewLostItemAlreadyMatchedError()
}

func (s *Service) foundLockConflict(ctx context.Context, foundID string) error {
	current, err := s.found.FindByID(ctx, foundID)
	if err != nil {
		return fmt.Errorf("拾得物の再取得に失敗しました: %w", err)
	}
	if current == nil {
		return model.NewFoundItemNotFoundError(foundID)
	}
	if current.Status == model.FoundStatusClaimed {
		return model.NewFoundItemAlreadyClaimedError()
	}
	return model.NewFoundItemAlreadyMatchedError()
}

func (s *Service) notifyMatchConfirmed(ctx context.Context, lost *model.LostItem, found *model.FoundItem) string {
	if s.notifier == nil || s.templates == nil {
		return ""
	}
	owner, err := s.users.FindByID(ctx, lost.ReportedBy)
	if err != nil || owner == nil {
		s.logger.WarnContext(ctx, "lost item owner not found for notification",
			slog.String("lost_item_id", lost.ID),
		)
		return notify.Warning(errors.New("owner lookup failed"))
	}
	msg, err := s.templates.MatchConfirmed(owner, lost, found)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to render notification", slog.String("error", err.Error()))
		return notify.Warning(err)
	}
	return notify.Warning(s.notifier.Notify(ctx, msg))
}

// RejectMatch は審査中のマッチを却下する。
// 手動マッチ（参照を設定したマッチ）の場合は両アイテムの参照を同じトランザクションで解除する。
func (s *Service) RejectMatch(ctx context.Context, matchID, adminID string) (*model.Match, error) {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("マッチの取得に失敗しました: %w", err)
	}
	if match == nil {
		return nil, model.NewMatchNotFoundError(matchID)
	}
	if match.Status != model.MatchStatusPending {
		return nil, model.NewMatchAlreadyProcessedError()
	}

	now := s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.matches.TransitionStatus(ctx, matchID, model.MatchStatusPending, model.MatchStatusRejected, now)
		if err != nil {
			return fmt.Errorf("マッチの却下に失敗しました: %w", err)
		}
		if !ok {
			return model.NewMatchAlreadyProcessedError()
		}
		if match.MatchType != model.MatchTypeManual {
			return nil
		}
		if _, err := s.lost.ReleaseMatch(ctx, match.LostItemID, match.FoundItemID, now); err != nil {
			return fmt.Errorf("紛失物の紐付け解除に失敗しました: %w", err)
		}
		if _, err := s.found.ReleaseMatch(ctx, match.FoundItemID, match.LostItemID, now); err != nil {
			return fmt.Errorf("拾得物の紐付け解除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordMatchRejected()
	s.logger.InfoContext(ctx, "match rejected",
		slog.String("match_id", matchID),
		slog.String("admin_id", adminID),
	)

	match.Status = model.MatchStatusRejected
	match.UpdatedAt = now
	return match, nil
}

// SearchCandidates は紛失物に対する拾得物の候補をスコア順に返す。
// 同じカテゴリで、紛失日以降に拾得され、未マッチかつ返還されていないものが対象。
func (s *Service) SearchCandidates(ctx context.Context, lostID string, actor model.Actor) ([]model.Candidate, error) {
	lost, err := s.ownedLostItem(ctx, lostID, actor)
	if err != nil {
		return nil, err
	}

	items, err := s.found.ListOpen(ctx, lost.Category, lost.DateLost)
	if err != nil {
		return nil, fmt.Errorf("拾得物の検索に失敗しました: %w", err)
	}

	candidates := make([]model.Candidate, 0, len(items))
	for _, f := range items {
		score := s.scorer.Score(lost, f)
		if score <= s.threshold {
			continue
		}
		candidates = append(candidates, model.Candidate{FoundItem: f, Score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].FoundItem.FoundDate.After(candidates[j].FoundItem.FoundDate)
	})
	return candidates, nil
}

// ListMatches は条件に一致するマッチを返す。
func (s *Service) ListMatches(ctx context.Context, filter model.MatchFilter) ([]*model.Match, error) {
	matches, err := s.matches.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("マッチ一覧の取得に失敗しました: %w", err)
	}
	return matches, nil
}

// ListForLostItem は紛失物に関わるマッチを返す。届出者本人または管理者のみ参照できる。
func (s *Service) ListForLostItem(ctx context.Context, lostID string, actor model.Actor) ([]*model.Match, error) {
	if _, err := s.ownedLostItem(ctx, lostID, actor); err != nil {
		return nil, err
	}
	return s.ListMatches(ctx, model.MatchFilter{LostItemID: lostID, Limit: 200})
}

func (s *Service) ownedLostItem(ctx context.Context, lostID string, actor model.Actor) (*model.LostItem, error) {
	lost, err := s.lost.FindByID(ctx, lostID)
	if err != nil {
		return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
	}
	if lost == nil {
		return nil, model.NewLostItemNotFoundError(lostID)
	}
	if !actor.IsAdmin() && lost.ReportedBy != actor.UserID {
		return nil, model.NewForbiddenError("この紛失物にアクセスする権限がありません")
	}
	return lost, nil
}
