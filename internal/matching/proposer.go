package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/notify"
	"github.com/hitoshi/lostfound/internal/repository"
)

// ProposalResult は自動提案で作成されたマッチと、処理を止めなかった問題の一覧を表す。
type ProposalResult struct {
	Matches  []*model.Match
	Warnings []string
}

type proposal struct {
	lost  *model.LostItem
	found *model.FoundItem
	match *model.Match
}

// ProposeForFound は新しい拾得物に対して未解決の紛失物をスコアリングし、
// 閾値を超えたものを自動マッチとして保存する。
// 候補ごとの保存失敗は警告として記録し、残りの候補の処理を続ける。
func (s *Service) ProposeForFound(ctx context.Context, found *model.FoundItem) (*ProposalResult, error) {
	result := &ProposalResult{}
	if found.MatchedWithLostItem != nil ||
		(found.Status != model.FoundStatusPending && found.Status != model.FoundStatusVerified) {
		return result, nil
	}

	lostItems, err := s.lost.ListOpenByCategory(ctx, found.Category)
	if err != nil {
		return nil, fmt.Errorf("紛失物の検索に失敗しました: %w", err)
	}

	var created []proposal
	for _, lost := range lostItems {
		if p, ok := s.propose(ctx, lost, found, result); ok {
			created = append(created, p)
		}
	}

	s.notifyProposals(ctx, created, result)
	return result, nil
}

// ProposeForLost は新しい紛失物に対して未解決の拾得物をスコアリングし、
// 閾値を超えたものを自動マッチとして保存する。
func (s *Service) ProposeForLost(ctx context.Context, lost *model.LostItem) (*ProposalResult, error) {
	result := &ProposalResult{}
	if lost.MatchedWithFoundItem != nil || !lost.Status.IsOpen() {
		return result, nil
	}

	foundItems, err := s.found.ListOpen(ctx, lost.Category, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("拾得物の検索に失敗しました: %w", err)
	}

	var created []proposal
	for _, found := range foundItems {
		if p, ok := s.propose(ctx, lost, found, result); ok {
			created = append(created, p)
		}
	}

	s.notifyProposals(ctx, created, result)
	return result, nil
}

// propose は1組の候補をスコアリングし、閾値を超えていれば保存する。
func (s *Service) propose(ctx context.Context, lost *model.LostItem, found *model.FoundItem, result *ProposalResult) (proposal, bool) {
	score := s.scorer.Score(lost, found)
	if score <= s.threshold {
		return proposal{}, false
	}

	existing, err := s.matches.FindActiveByPair(ctx, lost.ID, found.ID)
	if err != nil {
		s.proposalFailed(ctx, lost, found, err, result)
		return proposal{}, false
	}
	if existing != nil {
		return proposal{}, false
	}

	now := s.now()
	match := &model.Match{
		ID:          s.newID(),
		LostItemID:  lost.ID,
		FoundItemID: found.ID,
		MatchType:   model.MatchTypeAutomatic,
		Score:       score,
		Status:      model.MatchStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.matches.Create(ctx, match); err != nil {
		// 同時実行で同じペアが先に保存された場合は重複として無視する
		if errors.Is(err, repository.ErrDuplicate) {
			return proposal{}, false
		}
		s.proposalFailed(ctx, lost, found, err, result)
		return proposal{}, false
	}

	s.recorder.RecordProposal(score)
	result.Matches = append(result.Matches, match)
	return proposal{lost: lost, found: found, match: match}, true
}

func (s *Service) proposalFailed(ctx context.Context, lost *model.LostItem, found *model.FoundItem, err error, result *ProposalResult) {
	s.recorder.RecordProposalFailure()
	s.logger.ErrorContext(ctx, "failed to save match proposal",
		slog.String("lost_item_id", lost.ID),
		slog.String("found_item_id", found.ID),
		slog.String("error", err.Error()),
	)
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("match proposal for lost item %s and found item %s was not saved", lost.ID, found.ID))
}

// notifyProposals は届出者ごとに新しいマッチをまとめて1通ずつ通知する。
func (s *Service) notifyProposals(ctx context.Context, created []proposal, result *ProposalResult) {
	if len(created) == 0 || s.notifier == nil || s.templates == nil {
		return
	}

	var owners []string
	byOwner := make(map[string][]notify.ProposedMatch)
	for _, p := range created {
		owner := p.lost.ReportedBy
		if _, ok := byOwner[owner]; !ok {
			owners = append(owners, owner)
		}
		byOwner[owner] = append(byOwner[owner], notify.ProposedMatch{Lost: p.lost, Found: p.found, Score: p.match.Score})
	}

	for _, ownerID := range owners {
		owner, err := s.users.FindByID(ctx, ownerID)
		if err != nil || owner == nil {
			s.logger.WarnContext(ctx, "lost item owner not found for notification", slog.String("user_id", ownerID))
			result.Warnings = append(result.Warnings, notify.Warning(errors.New("owner lookup failed")))
			continue
		}
		msg, err := s.templates.MatchesProposed(owner, byOwner[ownerID])
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to render notification", slog.String("error", err.Error()))
			result.Warnings = append(result.Warnings, notify.Warning(err))
			continue
		}
		if w := notify.Warning(s.notifier.Notify(ctx, msg)); w != "" {
			result.Warnings = append(result.Warnings, w)
		}
	}
}
