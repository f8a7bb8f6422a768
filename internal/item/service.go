// Package item は紛失物・拾得物の届出、確認、一覧、削除、画像添付を提供する。
//
// 届出の保存後に自動マッチングを実行する。マッチングや通知の失敗は届出自体を失敗させず、
// 警告として結果に含める。
package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lostfound/internal/matching"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
)

// Proposer は届出に対する自動マッチングを実行する。matching.Serviceが満たす。
type Proposer interface {
	ProposeForLost(ctx context.Context, lost *model.LostItem) (*matching.ProposalResult, error)
	ProposeForFound(ctx context.Context, found *model.FoundItem) (*matching.ProposalResult, error)
}

// ImageProcessor はアップロード画像を検証して保存用のデータに変換する。
type ImageProcessor interface {
	Process(r io.Reader) ([]byte, error)
	MaxBytes() int64
}

// ImageStore は変換済みの画像を保存し、公開URIを返す。
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
}

// Recorder は届出関連のメトリクスを記録する。
type Recorder interface {
	RecordItemReported(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordItemReported(string) {}

// Deps はServiceの依存をまとめたもの。
type Deps struct {
	Tx        repository.TxManager
	Lost      repository.LostItemRepository
	Found     repository.FoundItemRepository
	Matches   repository.MatchRepository
	Claims    repository.ClaimRepository
	Proposer  Proposer
	Sanitizer security.TextSanitizer
	Images    ImageProcessor
	Store     ImageStore
	Recorder  Recorder
	Logger    *slog.Logger
}

// Service は届出のサービス層。
type Service struct {
	tx        repository.TxManager
	lost      repository.LostItemRepository
	found     repository.FoundItemRepository
	matches   repository.MatchRepository
	claims    repository.ClaimRepository
	proposer  Proposer
	sanitizer security.TextSanitizer
	images    ImageProcessor
	store     ImageStore
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
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		tx:        deps.Tx,
		lost:      deps.Lost,
		found:     deps.Found,
		matches:   deps.Matches,
		claims:    deps.Claims,
		proposer:  deps.Proposer,
		sanitizer: deps.Sanitizer,
		images:    deps.Images,
		store:     deps.Store,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// LostInput は紛失届の入力。
type LostInput struct {
	ItemName     string
	Category     string
	Description  string
	LastLocation string
	DateLost     time.Time
}

// FoundInput は拾得届の入力。
// ForLostItemIDを指定すると、その紛失物のfoundReportsに追加する。
type FoundInput struct {
	ItemName               string
	Category               string
	Description            string
	FoundLocation          string
	CurrentHoldingLocation string
	FoundDate              time.Time
	ForLostItemID          string
	Images                 []string // 掲示板から取り込む場合の画像URL
}

// LostReport は紛失届の結果。
type LostReport struct {
	Item     *model.LostItem
	Matches  []*model.Match
	Warnings []string
}

// FoundReport は拾得届の結果。
type FoundReport struct {
	Item     *model.FoundItem
	Matches  []*model.Match
	Warnings []string
}

// 未来日付は1日まで許容する（タイムゾーン差のため）。
const futureDateTolerance = 24 * time.Hour

// ReportLost は紛失物を登録し、未解決の拾得物との自動マッチングを実行する。
func (s *Service) ReportLost(ctx context.Context, in LostInput, reporterID string) (*LostReport, error) {
	now := s.now()
	item := &model.LostItem{
		ID:           s.newID(),
		ItemName:     s.sanitizer.Text(in.ItemName),
		Category:     s.sanitizer.Text(in.Category),
		Description:  s.sanitizer.Text(in.Description),
		LastLocation: s.sanitizer.Text(in.LastLocation),
		DateLost:     in.DateLost,
		ReportedBy:   reporterID,
		Status:       model.LostStatusLost,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateItem(item.ItemName, item.Category, item.DateLost, now); err != nil {
		return nil, err
	}

	if err := s.lost.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("紛失物の登録に失敗しました: %w", err)
	}
	s.recorder.RecordItemReported("lost")
	s.logger.InfoContext(ctx, "lost item reported",
		slog.String("lost_item_id", item.ID),
		slog.String("user_id", reporterID),
		slog.String("category", item.Category),
	)

	report := &LostReport{Item: item}
	if s.proposer != nil {
		result, err := s.proposer.ProposeForLost(ctx, item)
		report.Matches, report.Warnings = s.proposalOutcome(ctx, result, err, item.ID)
	}
	return report, nil
}

// ReportFound は拾得物を確認待ちで登録し、未解決の紛失物との自動マッチングを実行する。
func (s *Service) ReportFound(ctx context.Context, in FoundInput, reporterID string) (*FoundReport, error) {
	item, err := s.newFoundItem(in, reporterID)
	if err != nil {
		return nil, err
	}

	if in.ForLostItemID != "" {
		lost, err := s.lost.FindByID(ctx, in.ForLostItemID)
		if err != nil {
			return nil, fmt.Errorf("紛失物の取得に失敗しました: %w", err)
		}
		if lost == nil {
			return nil, model.NewLostItemNotFoundError(in.ForLostItemID)
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.found.Create(ctx, item); err != nil {
			return fmt.Errorf("拾得物の登録に失敗しました: %w", err)
		}
		if in.ForLostItemID != "" {
			if _, err := s.lost.AppendFoundReport(ctx, in.ForLostItemID, item.ID, item.CreatedAt); err != nil {
				return fmt.Errorf("紛失物への拾得届の紐付けに失敗しました: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordItemReported("found")
	s.logger.InfoContext(ctx, "found item reported",
		slog.String("found_item_id", item.ID),
		slog.String("user_id", reporterID),
		slog.String("category", item.Category),
	)
	return s.proposeFound(ctx, item), nil
}

// ImportFound は掲示板のエントリを確認済みの拾得物として登録する。
// 同じexternalRefのエントリが登録済みの場合は何もせずnil, falseを返す。
func (s *Service) ImportFound(ctx context.Context, in FoundInput, externalRef string) (*FoundReport, bool, error) {
	existing, err := s.found.FindByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, false, fmt.Errorf("拾得物の検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, false, nil
	}

	item, err := s.newFoundItem(in, model.SystemBulletinUserID)
	if err != nil {
		return nil, false, err
	}
	item.Status = model.FoundStatusVerified
	item.IsVerified = true
	item.ExternalRef = &externalRef
	item.Images = in.Images

	if err := s.found.Create(ctx, item); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("拾得物の登録に失敗しました: %w", err)
	}

	s.recorder.RecordItemReported("bulletin")
	s.logger.InfoContext(ctx, "found item imported",
		slog.String("found_item_id", item.ID),
		slog.String("external_ref", externalRef),
	)
	return s.proposeFound(ctx, item), true, nil
}

func (s *Service) newFoundItem(in FoundInput, reporterID string) (*model.FoundItem, error) {
	now := s.now()
	item := &model.FoundItem{
		ID:                     s.newID(),
		ItemName:               s.sanitizer.Text(in.ItemName),
		Category:               s.sanitizer.Text(in.Category),
		Description:            s.sanitizer.Text(in.Description),
		FoundLocation:          s.sanitizer.Text(in.FoundLocation),
		CurrentHoldingLocation: s.sanitizer.Text(in.CurrentHoldingLocation),
		FoundDate:              in.FoundDate,
		ReportedBy:             reporterID,
		Status:                 model.FoundStatusPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := validateItem(item.ItemName, item.Category, item.FoundDate, now); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) proposeFound(ctx context.Context, item *model.FoundItem) *FoundReport {
	report := &FoundReport{Item: item}
	if s.proposer != nil {
		result, err := s.proposer.ProposeForFound(ctx, item)
		report.Matches, report.Warnings = s.proposalOutcome(ctx, result, err, item.ID)
	}
	return report
}

// proposalOutcome は自動マッチングの結果を届出の結果に変換する。
// マッチングの失敗は届出を取り消さず、警告として返す。
func (s *Service) proposalOutcome(ctx context.Context, result *matching.ProposalResult, err error, itemID string) ([]*model.Match, []string) {
	if err != nil {
		s.logger.ErrorContext(ctx, "automatic matching failed",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return nil, []string{"automatic matching could not be run"}
	}
	if result == nil {
		return nil, nil
	}
	return result.Matches, result.Warnings
}

func validateItem(name, category string, date, now time.Time) error {
	switch {
	case name == "":
		return model.NewValidationError("品名を入力してください。")
	case category == "":
		return model.NewValidationError("カテゴリを入力してください。")
	case date.IsZero():
		return model.NewValidationError("日付を入力してください。")
	case date.After(now.Add(futureDateTolerance)):
		return model.NewValidationError("未来の日付は指定できません。")
	}
	return nil
}
