package inmemory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// --- users ---

// UserRepo はUserRepositoryのインメモリ実装。
type UserRepo struct{ s *Store }

// NewUserRepo はUserRepoを生成する。
func NewUserRepo(s *Store) *UserRepo { return &UserRepo{s: s} }

func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepo) ListAdmins(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.User
	for _, u := range r.s.users {
		if u.Role == model.RoleAdmin && u.ID != model.SystemBulletinUserID {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

// --- lost items ---

// LostItemRepo はLostItemRepositoryのインメモリ実装。
type LostItemRepo struct{ s *Store }

// NewLostItemRepo はLostItemRepoを生成する。
func NewLostItemRepo(s *Store) *LostItemRepo { return &LostItemRepo{s: s} }

func (r *LostItemRepo) FindByID(_ context.Context, id string) (*model.LostItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i, ok := r.s.lost[id]; ok {
		return cloneLost(i), nil
	}
	return nil, nil
}

func (r *LostItemRepo) Create(_ context.Context, item *model.LostItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lost[item.ID] = cloneLost(item)
	return nil
}

func (r *LostItemRepo) List(_ context.Context, f model.LostItemFilter) ([]*model.LostItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.LostItem
	for _, i := range r.s.lost {
		if f.Category != "" && !sameCategory(i.Category, f.Category) {
			continue
		}
		if f.Status != "" && i.Status != f.Status {
			continue
		}
		if f.ReportedBy != "" && i.ReportedBy != f.ReportedBy {
			continue
		}
		if f.Query != "" && !containsFold(i.ItemName, f.Query) && !containsFold(i.Description, f.Query) {
			continue
		}
		out = append(out, cloneLost(i))
	}
	sortByCreatedDesc(out, func(i *model.LostItem) time.Time { return i.CreatedAt })
	return page(out, f.Limit, f.Offset), nil
}

func (r *LostItemRepo) ListOpenByCategory(_ context.Context, category string) ([]*model.LostItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.LostItem
	for _, i := range r.s.lost {
		if sameCategory(i.Category, category) && i.Status.IsOpen() && i.MatchedWithFoundItem == nil {
			out = append(out, cloneLost(i))
		}
	}
	sortByCreatedDesc(out, func(i *model.LostItem) time.Time { return i.DateLost })
	return out, nil
}

func (r *LostItemRepo) AppendFoundReport(_ context.Context, lostID, foundID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.lost[lostID]
	if !ok || slices.Contains(i.FoundReports, foundID) {
		return false, nil
	}
	i.FoundReports = append(i.FoundReports, foundID)
	if i.Status == model.LostStatusLost {
		i.Status = model.LostStatusFoundReported
	}
	i.UpdatedAt = now
	return true, nil
}

func (r *LostItemRepo) LockToFound(_ context.Context, lostID, foundID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.lost[lostID]
	if !ok || i.MatchedWithFoundItem != nil || !i.Status.IsOpen() {
		return false, nil
	}
	i.MatchedWithFoundItem = &foundID
	i.Status = model.LostStatusPendingClaim
	i.UpdatedAt = now
	return true, nil
}

func (r *LostItemRepo) ReleaseMatch(_ context.Context, lostID, foundID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.lost[lostID]
	if !ok || i.MatchedWithFoundItem == nil || *i.MatchedWithFoundItem != foundID {
		return false, nil
	}
	i.MatchedWithFoundItem = nil
	if i.Status == model.LostStatusPendingClaim {
		if len(i.FoundReports) > 0 {
			i.Status = model.LostStatusFoundReported
		} else {
			i.Status = model.LostStatusLost
		}
	}
	i.UpdatedAt = now
	return true, nil
}

func (r *LostItemRepo) TransitionStatus(_ context.Context, id string, from []model.LostItemStatus, to model.LostItemStatus, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.lost[id]
	if !ok || !slices.Contains(from, i.Status) {
		return false, nil
	}
	i.Status = to
	i.UpdatedAt = now
	return true, nil
}

func (r *LostItemRepo) AddImage(_ context.Context, id, uri string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i, ok := r.s.lost[id]; ok {
		i.Images = append(i.Images, uri)
		i.UpdatedAt = now
	}
	return nil
}

// Delete は紛失物を削除し、外部キーの動作（マッチのCASCADE、参照のSET NULL）を再現する。
func (r *LostItemRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.lost, id)
	for mid, m := range r.s.match {
		if m.LostItemID == id {
			delete(r.s.match, mid)
		}
	}
	for _, f := range r.s.found {
		if f.MatchedWithLostItem != nil && *f.MatchedWithLostItem == id {
			f.MatchedWithLostItem = nil
		}
	}
	for _, c := range r.s.claims {
		if c.LostItemID != nil && *c.LostItemID == id {
			c.LostItemID = nil
		}
	}
	return nil
}

func (r *LostItemRepo) CountByStatus(_ context.Context) (model.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := model.StatusCount{}
	for _, i := range r.s.lost {
		counts[string(i.Status)]++
	}
	return counts, nil
}

// --- found items ---

// FoundItemRepo はFoundItemRepositoryのインメモリ実装。
type FoundItemRepo struct{ s *Store }

// NewFoundItemRepo はFoundItemRepoを生成する。
func NewFoundItemRepo(s *Store) *FoundItemRepo { return &FoundItemRepo{s: s} }

func (r *FoundItemRepo) FindByID(_ context.Context, id string) (*model.FoundItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i, ok := r.s.found[id]; ok {
		return cloneFound(i), nil
	}
	return nil, nil
}

func (r *FoundItemRepo) FindByExternalRef(_ context.Context, ref string) (*model.FoundItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.found {
		if i.ExternalRef != nil && *i.ExternalRef == ref {
			return cloneFound(i), nil
		}
	}
	return nil, nil
}

func (r *FoundItemRepo) Create(_ context.Context, item *model.FoundItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if item.ExternalRef != nil {
		for _, i := range r.s.found {
			if i.ExternalRef != nil && *i.ExternalRef == *item.ExternalRef {
				return repository.ErrDuplicate
			}
		}
	}
	r.s.found[item.ID] = cloneFound(item)
	return nil
}

func (r *FoundItemRepo) List(_ context.Context, f model.FoundItemFilter) ([]*model.FoundItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.FoundItem
	for _, i := range r.s.found {
		if f.Category != "" && !sameCategory(i.Category, f.Category) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, i.Status) {
			continue
		}
		if f.ReportedBy != "" && i.ReportedBy != f.ReportedBy {
			continue
		}
		if f.Query != "" && !containsFold(i.ItemName, f.Query) && !containsFold(i.Description, f.Query) {
			continue
		}
		out = append(out, cloneFound(i))
	}
	sortByCreatedDesc(out, func(i *model.FoundItem) time.Time { return i.CreatedAt })
	return page(out, f.Limit, f.Offset), nil
}

func (r *FoundItemRepo) ListOpen(_ context.Context, category string, foundOnOrAfter time.Time) ([]*model.FoundItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.FoundItem
	for _, i := range r.s.found {
		if i.Status != model.FoundStatusPending && i.Status != model.FoundStatusVerified {
			continue
		}
		if i.MatchedWithLostItem != nil {
			continue
		}
		if category != "" && !sameCategory(i.Category, category) {
			continue
		}
		if !foundOnOrAfter.IsZero() && i.FoundDate.Before(foundOnOrAfter) {
			continue
		}
		out = append(out, cloneFound(i))
	}
	sortByCreatedDesc(out, func(i *model.FoundItem) time.Time { return i.FoundDate })
	return out, nil
}

func (r *FoundItemRepo) LockToLost(_ context.Context, foundID, lostID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.found[foundID]
	if !ok || i.MatchedWithLostItem != nil || i.Status == model.FoundStatusClaimed {
		return false, nil
	}
	i.MatchedWithLostItem = &lostID
	i.UpdatedAt = now
	return true, nil
}

func (r *FoundItemRepo) ReleaseMatch(_ context.Context, foundID, lostID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.found[foundID]
	if !ok || i.MatchedWithLostItem == nil || *i.MatchedWithLostItem != lostID {
		return false, nil
	}
	i.MatchedWithLostItem = nil
	i.UpdatedAt = now
	return true, nil
}

func (r *FoundItemRepo) TransitionStatus(_ context.Context, id string, from []model.FoundItemStatus, to model.FoundItemStatus, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.found[id]
	if !ok || !slices.Contains(from, i.Status) {
		return false, nil
	}
	i.Status = to
	i.UpdatedAt = now
	return true, nil
}

func (r *FoundItemRepo) MarkClaimed(_ context.Context, id, claimantID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.found[id]
	if !ok || i.Status != model.FoundStatusPendingClaim {
		return false, nil
	}
	i.Status = model.FoundStatusClaimed
	i.ClaimedBy = &claimantID
	i.ClaimedAt = &now
	i.UpdatedAt = now
	return true, nil
}

func (r *FoundItemRepo) Verify(_ context.Context, id, adminID string, approve bool, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.found[id]
	if !ok || i.Status != model.FoundStatusPending {
		return false, nil
	}
	if approve {
		i.Status = model.FoundStatusVerified
	} else {
		i.Status = model.FoundStatusRejected
	}
	i.IsVerified = approve
	i.VerifiedBy = &adminID
	i.UpdatedAt = now
	return true, nil
}

func (r *FoundItemRepo) AddImage(_ context.Context, id, uri string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i, ok := r.s.found[id]; ok {
		i.Images = append(i.Images, uri)
		i.UpdatedAt = now
	}
	return nil
}

// Delete は拾得物を削除し、外部キーの動作（マッチと申請のCASCADE、参照のSET NULL）を再現する。
func (r *FoundItemRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.found, id)
	for mid, m := range r.s.match {
		if m.FoundItemID == id {
			delete(r.s.match, mid)
		}
	}
	for cid, c := range r.s.claims {
		if c.FoundItemID == id {
			delete(r.s.claims, cid)
		}
	}
	for _, l := range r.s.lost {
		if l.MatchedWithFoundItem != nil && *l.MatchedWithFoundItem == id {
			l.MatchedWithFoundItem = nil
		}
	}
	return nil
}

func (r *FoundItemRepo) CountByStatus(_ context.Context) (model.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := model.StatusCount{}
	for _, i := range r.s.found {
		counts[string(i.Status)]++
	}
	return counts, nil
}

// --- matches ---

// MatchRepo はMatchRepositoryのインメモリ実装。
type MatchRepo struct{ s *Store }

// NewMatchRepo はMatchRepoを生成する。
func NewMatchRepo(s *Store) *MatchRepo { return &MatchRepo{s: s} }

func (r *MatchRepo) FindByID(_ context.Context, id string) (*model.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.match[id]; ok {
		return cloneMatch(m), nil
	}
	return nil, nil
}

func (r *MatchRepo) FindActiveByPair(_ context.Context, lostID, foundID string) (*model.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.match {
		if m.LostItemID == lostID && m.FoundItemID == foundID && m.IsActive() {
			return cloneMatch(m), nil
		}
	}
	return nil, nil
}

func (r *MatchRepo) Create(_ context.Context, match *model.Match) error {
	if r.s.FailMatchCreate != nil {
		if err := r.s.FailMatchCreate(match); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.match {
		if m.LostItemID == match.LostItemID && m.FoundItemID == match.FoundItemID && m.IsActive() {
			return repository.ErrDuplicate
		}
	}
	r.s.match[match.ID] = cloneMatch(match)
	return nil
}

func (r *MatchRepo) List(_ context.Context, f model.MatchFilter) ([]*model.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Match
	for _, m := range r.s.match {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.MatchType != "" && m.MatchType != f.MatchType {
			continue
		}
		if f.LostItemID != "" && m.LostItemID != f.LostItemID {
			continue
		}
		if f.FoundItemID != "" && m.FoundItemID != f.FoundItemID {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sortByCreatedDesc(out, func(m *model.Match) time.Time { return m.CreatedAt })
	return page(out, f.Limit, f.Offset), nil
}

func (r *MatchRepo) TransitionStatus(_ context.Context, id string, from, to model.MatchStatus, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.match[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = now
	return true, nil
}

func (r *MatchRepo) RejectCompeting(_ context.Context, lostID, foundID, keepID string, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.match {
		if m.ID == keepID || !m.IsActive() {
			continue
		}
		if m.LostItemID == lostID || m.FoundItemID == foundID {
			m.Status = model.MatchStatusRejected
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *MatchRepo) CountByStatus(_ context.Context) (model.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := model.StatusCount{}
	for _, m := range r.s.match {
		counts[string(m.Status)]++
	}
	return counts, nil
}

// --- claims ---

// ClaimRepo はClaimRepositoryのインメモリ実装。
type ClaimRepo struct{ s *Store }

// NewClaimRepo はClaimRepoを生成する。
func NewClaimRepo(s *Store) *ClaimRepo { return &ClaimRepo{s: s} }

func (r *ClaimRepo) FindByID(_ context.Context, id string) (*model.ClaimRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.claims[id]; ok {
		return cloneClaim(c), nil
	}
	return nil, nil
}

func isActiveClaim(c *model.ClaimRequest) bool {
	return c.Status == model.ClaimStatusPending || c.Status == model.ClaimStatusApproved
}

func (r *ClaimRepo) FindActiveByClaimant(_ context.Context, foundID, claimantID string) (*model.ClaimRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.claims {
		if c.FoundItemID == foundID && c.ClaimantID == claimantID && isActiveClaim(c) {
			return cloneClaim(c), nil
		}
	}
	return nil, nil
}

func (r *ClaimRepo) Create(_ context.Context, claim *model.ClaimRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.claims {
		if c.FoundItemID == claim.FoundItemID && c.ClaimantID == claim.ClaimantID && isActiveClaim(c) {
			return repository.ErrDuplicate
		}
	}
	r.s.claims[claim.ID] = cloneClaim(claim)
	return nil
}

func (r *ClaimRepo) List(_ context.Context, f model.ClaimFilter) ([]*model.ClaimRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ClaimRequest
	for _, c := range r.s.claims {
		if f.ClaimantID != "" && c.ClaimantID != f.ClaimantID {
			continue
		}
		if f.FoundItemID != "" && c.FoundItemID != f.FoundItemID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, cloneClaim(c))
	}
	sortByCreatedDesc(out, func(c *model.ClaimRequest) time.Time { return c.CreatedAt })
	return page(out, f.Limit, f.Offset), nil
}

func (r *ClaimRepo) CountPending(_ context.Context, foundID, excludeID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.claims {
		if c.FoundItemID == foundID && c.ID != excludeID && c.Status == model.ClaimStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *ClaimRepo) CountApproved(_ context.Context, foundID, lostID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.claims {
		if c.Status != model.ClaimStatusApproved {
			continue
		}
		if (foundID != "" && c.FoundItemID == foundID) || (lostID != "" && c.LostItemID != nil && *c.LostItemID == lostID) {
			n++
		}
	}
	return n, nil
}

func (r *ClaimRepo) Process(_ context.Context, id string, to model.ClaimStatus, adminID, notes string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[id]
	if !ok || c.Status != model.ClaimStatusPending {
		return false, nil
	}
	c.Status = to
	c.ProcessedBy = &adminID
	c.AdminNotes = notes
	c.ProcessedAt = &now
	c.UpdatedAt = now
	return true, nil
}

func (r *ClaimRepo) Cancel(_ context.Context, id, reason string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[id]
	if !ok || c.Status != model.ClaimStatusPending {
		return false, nil
	}
	c.Status = model.ClaimStatusCanceled
	c.CancellationReason = reason
	c.UpdatedAt = now
	return true, nil
}

func (r *ClaimRepo) RejectOtherPending(_ context.Context, foundID, exceptID, adminID, notes string, now time.Time) ([]*model.ClaimRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ClaimRequest
	for _, c := range r.s.claims {
		if c.FoundItemID != foundID || c.ID == exceptID || c.Status != model.ClaimStatusPending {
			continue
		}
		c.Status = model.ClaimStatusRejected
		c.ProcessedBy = &adminID
		c.AdminNotes = notes
		c.ProcessedAt = &now
		c.UpdatedAt = now
		out = append(out, cloneClaim(c))
	}
	return out, nil
}

func (r *ClaimRepo) CountByStatus(_ context.Context) (model.StatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := model.StatusCount{}
	for _, c := range r.s.claims {
		counts[string(c.Status)]++
	}
	return counts, nil
}

// Repos はStoreの全リポジトリをまとめたもの。
type Repos struct {
	Store *Store
	Tx    *TxManager
	Users *UserRepo
	Lost  *LostItemRepo
	Found *FoundItemRepo
	Match *MatchRepo
	Claim *ClaimRepo
}

// New は空のStoreと全リポジトリを生成する。
func New() *Repos {
	s := NewStore()
	return &Repos{
		Store: s,
		Tx:    NewTxManager(s),
		Users: NewUserRepo(s),
		Lost:  NewLostItemRepo(s),
		Found: NewFoundItemRepo(s),
		Match: NewMatchRepo(s),
		Claim: NewClaimRepo(s),
	}
}

var (
	_ repository.UserRepository      = (*UserRepo)(nil)
	_ repository.LostItemRepository  = (*LostItemRepo)(nil)
	_ repository.FoundItemRepository = (*FoundItemRepo)(nil)
	_ repository.MatchRepository     = (*MatchRepo)(nil)
	_ repository.ClaimRepository     = (*ClaimRepo)(nil)
)
