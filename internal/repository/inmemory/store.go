// Package inmemory はrepositoryインターフェースのインメモリ実装を提供する。
// 条件付き更新とトランザクションのロールバックをPostgreSQL実装と同じ意味で扱うため、
// サービス層のテストで使用する。
package inmemory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// Store は全エンティティを保持するインメモリデータストア。
type Store struct {
	mu     sync.Mutex
	users  map[string]*model.User
	lost   map[string]*model.LostItem
	found  map[string]*model.FoundItem
	match  map[string]*model.Match
	claims map[string]*model.ClaimRequest

	// txMu はトランザクションを直列化する。
	txMu sync.Mutex

	// FailMatchCreate が非nilのエラーを返すと、そのマッチの作成は失敗する。テスト用。
	FailMatchCreate func(m *model.Match) error
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		users:  make(map[string]*model.User),
		lost:   make(map[string]*model.LostItem),
		found:  make(map[string]*model.FoundItem),
		match:  make(map[string]*model.Match),
		claims: make(map[string]*model.ClaimRequest),
	}
}

type snapshot struct {
	users  map[string]*model.User
	lost   map[string]*model.LostItem
	found  map[string]*model.FoundItem
	match  map[string]*model.Match
	claims map[string]*model.ClaimRequest
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		users:  cloneMap(s.users, cloneUser),
		lost:   cloneMap(s.lost, cloneLost),
		found:  cloneMap(s.found, cloneFound),
		match:  cloneMap(s.match, cloneMatch),
		claims: cloneMap(s.claims, cloneClaim),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.lost, s.found, s.match, s.claims = snap.users, snap.lost, snap.found, snap.match, snap.claims
}

type txContextKey struct{}

// TxManager はStoreのスナップショットによるロールバックを提供する。
type TxManager struct {
	store *Store
}

// NewTxManager はTxManagerを生成する。
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// WithinTx はfnを直列化して実行し、エラー時は実行前の状態に戻す。
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txContextKey{}) != nil {
		return fn(ctx)
	}
	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()

	snap := m.store.snapshot()
	if err := fn(context.WithValue(ctx, txContextKey{}, true)); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

// --- clone helpers ---

func cloneMap[T any](src map[string]*T, clone func(*T) *T) map[string]*T {
	dst := make(map[string]*T, len(src))
	for k, v := range src {
		dst[k] = clone(v)
	}
	return dst
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func cloneLost(i *model.LostItem) *model.LostItem {
	c := *i
	c.MatchedWithFoundItem = cloneStrPtr(i.MatchedWithFoundItem)
	c.FoundReports = slices.Clone(i.FoundReports)
	c.Images = slices.Clone(i.Images)
	return &c
}

func cloneFound(i *model.FoundItem) *model.FoundItem {
	c := *i
	c.MatchedWithLostItem = cloneStrPtr(i.MatchedWithLostItem)
	c.ClaimedBy = cloneStrPtr(i.ClaimedBy)
	c.ClaimedAt = cloneTimePtr(i.ClaimedAt)
	c.VerifiedBy = cloneStrPtr(i.VerifiedBy)
	c.ExternalRef = cloneStrPtr(i.ExternalRef)
	c.Images = slices.Clone(i.Images)
	return &c
}

func cloneMatch(m *model.Match) *model.Match {
	c := *m
	c.MatchedBy = cloneStrPtr(m.MatchedBy)
	return &c
}

func cloneClaim(cr *model.ClaimRequest) *model.ClaimRequest {
	c := *cr
	c.LostItemID = cloneStrPtr(cr.LostItemID)
	c.ProcessedBy = cloneStrPtr(cr.ProcessedBy)
	c.ProcessedAt = cloneTimePtr(cr.ProcessedAt)
	return &c
}

// page はoffset/limitを適用する。limitが0以下の場合は50件とする。
func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sameCategory(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sortByCreatedDesc[T any](items []T, createdAt func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]).After(createdAt(items[j]))
	})
}

var _ repository.TxManager = (*TxManager)(nil)
