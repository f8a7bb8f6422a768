// Package claim は拾得物の返還申請のライフサイクルを提供する。
//
// 申請は pending から approved / rejected / canceled のいずれかに一度だけ遷移する。
// 申請の状態と拾得物・紛失物の状態は同じトランザクションで更新する。
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/notify"
	"github.com/hitoshi/lostfound/internal/repository"
)

// AutoRejectNote は他の申請の承認により自動却下された申請に記録する備考。
const AutoRejectNote = "Another claim for this item was approved."

// Notifier は通知の送信手段。
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Recorder は申請関連のメトリクスを記録する。
type Recorder interface {
	RecordClaimSubmitted()
	RecordClaimProcessed(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordClaimSubmitted()       {}
func (nopRecorder) RecordClaimProcessed(string) {}

// Deps はServiceの依存をまとめたもの。
type Deps struct {
	Tx        repository.TxManager
	Users     repository.UserRepository
	Lost      repository.LostItemRepository
	Found     repository.FoundItemRepository
	Matches   repository.MatchRepository
	Claims    repository.ClaimRepository
	Notifier  Notifier
	Templates *notify.Templates
	Recorder  Recorder
	Logger    *slog.Logger
}

// Service は返還申請のサービス層。
type Service struct {
	tx        repository.TxManager
	users     repository.UserRepository
	lost      repository.LostItemRepository
	found     repository.FoundItemRepository
	matches   repository.MatchRepository
	claims    repository.ClaimRepository
	notifier  Notifier
	templates *notify.Templates
	recorder  Recorder
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceを生成する。
func NewService(deps Deps) *Service {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		tx:        deps.Tx,
		users:     deps.Users,
		lost:      deps.Lost,
		found:     deps.Found,
		matches:   deps.Matches,
		claims:    deps.Claims,
		notifier:  deps.Notifier,
		templates: deps.Templates,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CreateInput は申請の入力を表す。
type CreateInput struct {
	FoundItemID    string
	LostItemID     string // 任意。申請者自身の紛失届
	OwnershipProof string
	ContactDetails string
}

// Result は申請操作の結果と通知の警告を表す。
type Result struct {
	Claim    *model.ClaimRequest
	Warnings []string
}

// Create は返還申請を作成し、拾得物を審査中にする。
func (s *Service) Create(ctx context.Context, in CreateInput, claimant model.Actor) (*Result, error) {
	found, err := s.found.FindByID(ctx, in.FoundItemID)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return nil, model.NewFoundItemNotFoundError(in.FoundItemID)
	}

	// 重複チェックは状態チェックより先に行い、既存の申請IDを返す
	existing, err := s.claims.FindActiveByClaimant(ctx, found.ID, claimant.UserID)
	if err != nil {
		return nil, fmt.Errorf("既存申請の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateClaimError(existing.ID)
	}

	if !found.Status.IsClaimable() {
		return nil, model.NewFoundItemNotClaimableError(found.Status)
	}

	lostID, err := s.resolveLostItem(ctx, in.LostItemID, found, claimant)
	if err != nil {
		return nil, err
	}

	now := s.now()
	claim := &model.ClaimRequest{
		ID:             s.newID(),
		FoundItemID:    found.ID,
		LostItemID:     lostID,
		ClaimantID:     claimant.UserID,
		OwnershipProof: in.OwnershipProof,
		ContactDetails: in.ContactDetails,
		Status:         model.ClaimStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.found.TransitionStatus(ctx, found.ID,
			[]model.FoundItemStatus{model.FoundStatusVerified, model.FoundStatusPending},
			model.FoundStatusPendingClaim, now)
		if err != nil {
			return fmt.Errorf("拾得物の状態更新に失敗しました: %w", err)
		}
		if !ok {
			current, err := s.found.FindByID(ctx, found.ID)
			if err != nil {
				return fmt.Errorf("拾得物の再取得に失敗しました: %w", err)
			}
			if current == nil {
				return model.NewFoundItemNotFoundError(found.ID)
			}
			return model.NewFoundItemNotClaimableError(current.Status)
		}

		if err := s.claims.Create(ctx, claim); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return s.duplicateClaim(ctx, found.ID, claimant.UserID)
			}
			return fmt.Errorf("申請の作成に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordClaimSubmitted()
	s.logger.InfoContext(ctx, "claim submitted",
		slog.String("claim_id", claim.ID),
		slog.String("found_item_id", found.ID),
		slog.String("claimant_id", claimant.UserID),
	)

	result := &Result{Claim: claim}
	result.Warnings = s.notifyAdmins(ctx, claim, found)
	return result, nil
}

// resolveLostItem は申請に紐付ける紛失物IDを決める。
// 指定がなく、拾得物が申請者の紛失物とマッチ済みであればそれを紐付ける。
func (s *Service) resolveLostItem(ctx context.Context, lostID string, found *model.FoundItem, claimant model.Actor) (*string, error) {
	if lostID == "" {
		if found.MatchedWithLostItem == nil {
			return nil, nil
		}
		lost, err := s.lost.FindByID(ctx, *found.MatchedWithLostItem)
		if err != nil {
			return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
		}
		if lost == nil || lost.ReportedBy != claimant.UserID {
			return nil, nil
		}
		return &lost.ID, nil
	}

	lost, err := s.lost.FindByID(ctx, lostID)
	if err != nil {
		return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
	}
	if lost == nil {
		return nil, model.NewLostItemNotFoundError(lostID)
	}
	if lost.ReportedBy != claimant.UserID && !claimant.IsAdmin() {
		return nil, model.NewForbiddenError("指定した紛失届は申請者本人のものではありません")
	}
	return &lost.ID, nil
}

func (s *Service) duplicateClaim(ctx context.Context, foundID, claimantID string) error {
	existing, err := s.claims.FindActiveByClaimant(ctx, foundID, claimantID)
	if err != nil {
		return fmt.Errorf("既存申請の確認に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewDuplicateClaimError("")
	}
	return model.NewDuplicateClaimError(existing.ID)
}

// Process は管理者が申請を承認または却下する。
//
// 承認時は拾得物を返還済みにし、紐付く紛失物を claimed に、手動マッチを confirmed にし、
// 同じ拾得物への他の審査中の申請を自動却下する。
// 却下時は他に審査中の申請がなければ拾得物を申請前の状態に戻す。
func (s *Service) Process(ctx context.Context, claimID, adminID string, approve bool, notes string) (*Result, error) {
	claim, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if claim == nil {
		return nil, model.NewClaimNotFoundError(claimID)
	}
	if claim.Status.IsTerminal() {
		return nil, model.NewClaimAlreadyProcessedError(claim.Status)
	}

	found, err := s.found.FindByID(ctx, claim.FoundItemID)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return nil, model.NewFoundItemNotFoundError(claim.FoundItemID)
	}

	to := model.ClaimStatusRejected
	if approve {
		to = model.ClaimStatusApproved
	}

	now := s.now()
	var autoRejected []*model.ClaimRequest
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.claims.Process(ctx, claimID, to, adminID, notes, now)
		if err != nil {
			return fmt.Errorf("申請の更新に失敗しました: %w", err)
		}
		if !ok {
			return s.alreadyProcessed(ctx, claimID)
		}

		if !approve {
			return s.releaseFoundItem(ctx, found, claimID, now)
		}

		ok, err = s.found.MarkClaimed(ctx, found.ID, claim.ClaimantID, now)
		if err != nil {
			return fmt.Errorf("拾得物の返還処理に失敗しました: %w", err)
		}
		if !ok {
			current, err := s.found.FindByID(ctx, found.ID)
			if err != nil {
				return fmt.Errorf("拾得物の再取得に失敗しました: %w", err)
			}
			if current != nil && current.Status == model.FoundStatusClaimed {
				return model.NewFoundItemAlreadyClaimedError()
			}
			return model.NewFoundItemNotClaimableError(found.Status)
		}

		if err := s.closeLostItems(ctx, claim, found, now); err != nil {
			return err
		}

		// Createは拾得物を pending_claim にするため、サービス経由では他の審査中申請は生じない。
		// 直接投入された申請が残っていた場合もここで却下する。
		autoRejected, err = s.claims.RejectOtherPending(ctx, found.ID, claimID, adminID, AutoRejectNote, now)
		if err != nil {
			return fmt.Errorf("他の申請の却下に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordClaimProcessed(string(to))
	for range autoRejected {
		s.recorder.RecordClaimProcessed("auto_rejected")
	}
	s.logger.InfoContext(ctx, "claim processed",
		slog.String("claim_id", claimID),
		slog.String("outcome", string(to)),
		slog.String("admin_id", adminID),
		slog.Int("auto_rejected", len(autoRejected)),
	)

	updated, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("申請の再取得に失敗しました: %w", err)
	}
	result := &Result{Claim: updated}
	if w := s.notifyClaimant(ctx, updated, found); w != "" {
		result.Warnings = append(result.Warnings, w)
	}
	for _, other := range autoRejected {
		if w := s.notifyClaimant(ctx, other, found); w != "" {
			result.Warnings = append(result.Warnings, w)
		}
	}
	return result, nil
}

// closeLostItems は承認された申請に紐付く紛失物を claimed にし、手動マッチを確定する。
func (s *Service) closeLostItems(ctx context.Context, claim *model.ClaimRequest, found *model.FoundItem, now time.Time) error {
	var lostIDs []string
	if found.MatchedWithLostItem != nil {
		lostIDs = append(lostIDs, *found.MatchedWithLostItem)
	}
	if claim.LostItemID != nil && (len(lostIDs) == 0 || lostIDs[0] != *claim.LostItemID) {
		lostIDs = append(lostIDs, *claim.LostItemID)
	}

	for _, lostID := range lostIDs {
		_, err := s.lost.TransitionStatus(ctx, lostID,
			[]model.LostItemStatus{
				model.LostStatusLost, model.LostStatusFoundReported,
				model.LostStatusPendingClaim, model.LostStatusFound,
			},
			model.LostStatusClaimed, now)
		if err != nil {
			return fmt.Errorf("紛失物の状態更新に失敗しました: %w", err)
		}
	}

	if found.MatchedWithLostItem == nil {
		return nil
	}
	m, err := s.matches.FindActiveByPair(ctx, *found.MatchedWithLostItem, found.ID)
	if err != nil {
		return fmt.Errorf("マッチの取得に失敗しました: %w", err)
	}
	if m == nil || m.Status != model.MatchStatusPending {
		return nil
	}
	if _, err := s.matches.TransitionStatus(ctx, m.ID, model.MatchStatusPending, model.MatchStatusConfirmed, now); err != nil {
		return fmt.Errorf("マッチの確定に失敗しました: %w", err)
	}
	return nil
}

// releaseFoundItem は審査中の申請が他になければ拾得物を申請前の状態に戻す。
func (s *Service) releaseFoundItem(ctx context.Context, found *model.FoundItem, claimID string, now time.Time) error {
	// サービス経由では審査中の申請は拾得物ごとに1件のため、通常は0件になる。
	pending, err := s.claims.CountPending(ctx, found.ID, claimID)
	if err != nil {
		return fmt.Errorf("審査中の申請数の取得に失敗しました: %w", err)
	}
	if pending > 0 {
		return nil
	}
	if _, err := s.found.TransitionStatus(ctx, found.ID,
		[]model.FoundItemStatus{model.FoundStatusPendingClaim}, found.RevertStatus(), now); err != nil {
		return fmt.Errorf("拾得物の状態更新に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) alreadyProcessed(ctx context.Context, claimID string) error {
	current, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return fmt.Errorf("申請の再取得に失敗しました: %w", err)
	}
	if current == nil {
		return model.NewClaimNotFoundError(claimID)
	}
	return model.NewClaimAlreadyProcessedError(current.Status)
}

// Cancel は申請者本人または管理者が審査中の申請を取り下げる。
func (s *Service) Cancel(ctx context.Context, claimID string, actor model.Actor, reason string) (*model.ClaimRequest, error) {
	claim, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if claim == nil {
		return nil, model.NewClaimNotFoundError(claimID)
	}
	if claim.ClaimantID != actor.UserID && !actor.IsAdmin() {
		return nil, model.NewClaimForbiddenError()
	}
	if claim.Status.IsTerminal() {
		return nil, model.NewClaimAlreadyProcessedError(claim.Status)
	}

	found, err := s.found.FindByID(ctx, claim.FoundItemID)
	if err != nil {
		return nil, fmt.Errorf("拾得物の取得に失敗しました: %w", err)
	}
	if found == nil {
		return nil, model.NewFoundItemNotFoundError(claim.FoundItemID)
	}

	now := s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.claims.Cancel(ctx, claimID, reason, now)
		if err != nil {
			return fmt.Errorf("申請の取り下げに失敗しました: %w", err)
		}
		if !ok {
			return s.alreadyProcessed(ctx, claimID)
		}
		return s.releaseFoundItem(ctx, found, claimID, now)
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordClaimProcessed(string(model.ClaimStatusCanceled))
	s.logger.InfoContext(ctx, "claim canceled",
		slog.String("claim_id", claimID),
		slog.String("actor_id", actor.UserID),
	)

	updated, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("申請の再取得に失敗しました: %w", err)
	}
	return updated, nil
}

// Get は申請を返す。申請者本人または管理者のみ参照できる。
func (s *Service) Get(ctx context.Context, claimID string, actor model.Actor) (*model.ClaimRequest, error) {
	claim, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if claim == nil {
		return nil, model.NewClaimNotFoundError(claimID)
	}
	if claim.ClaimantID != actor.UserID && !actor.IsAdmin() {
		return nil, model.NewClaimForbiddenError()
	}
	return claim, nil
}

// List は申請の一覧を返す。管理者以外は自分の申請のみ。
func (s *Service) List(ctx context.Context, filter model.ClaimFilter, actor model.Actor) ([]*model.ClaimRequest, error) {
	if !actor.IsAdmin() {
		filter.ClaimantID = actor.UserID
	}
	claims, err := s.claims.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	return claims, nil
}

func (s *Service) notifyAdmins(ctx context.Context, claim *model.ClaimRequest, found *model.FoundItem) []string {
	if s.notifier == nil || s.templates == nil {
		return nil
	}
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list admins for notification", slog.String("error", err.Error()))
		return []string{notify.Warning(err)}
	}

	var warnings []string
	for _, admin := range admins {
		msg, err := s.templates.ClaimSubmitted(admin, claim, found)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to render notification", slog.String("error", err.Error()))
			warnings = append(warnings, notify.Warning(err))
			continue
		}
		if w := notify.Warning(s.notifier.Notify(ctx, msg)); w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

func (s *Service) notifyClaimant(ctx context.Context, claim *model.ClaimRequest, found *model.FoundItem) string {
	if s.notifier == nil || s.templates == nil || claim == nil {
		return ""
	}
	claimant, err := s.users.FindByID(ctx, claim.ClaimantID)
	if err != nil || claimant == nil {
		s.logger.WarnContext(ctx, "claimant not found for notification", slog.String("claim_id", claim.ID))
		return notify.Warning(errors.New("claimant lookup failed"))
	}
	msg, err := s.templates.ClaimProcessed(claimant, claim, found)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to render notification", slog.String("error", err.Error()))
		return notify.Warning(err)
	}
	return notify.Warning(s.notifier.Notify(ctx, msg))
}
