// Package matching は紛失物と拾得物のマッチングを提供する。
// スコアリング、自動提案、管理者による手動確定と却下、オンデマンド検索を含む。
package matching

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// Weights はスコアの各シグナルの配点を保持する。
type Weights struct {
	Category      int // カテゴリ一致
	TokenPerMatch int // 共通トークン1つあたり
	TokenMax      int // トークン一致の上限
	Within1Day    int // 日付差1日以内
	Within3Days   int // 日付差3日以内
	Within7Days   int // 日付差7日以内
	Location      int // 場所の部分一致
}

// DefaultWeights はデフォルトの配点を返す。
func DefaultWeights() Weights {
	return Weights{
		Category:      30,
		TokenPerMatch: 5,
		TokenMax:      30,
		Within1Day:    20,
		Within3Days:   10,
		Within7Days:   5,
		Location:      20,
	}
}

// DefaultThreshold はマッチを保存するスコアの下限（この値を超えるもののみ保存）。
const DefaultThreshold = 20

// MaxScore はスコアの上限。
const MaxScore = 100

// minTokenLength より長いトークンのみを比較に使う。
const minTokenLength = 3

var tokenSplitter = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Scorer は紛失物と拾得物の一致度を0〜100で算出する。
// 入力が同じなら常に同じ値を返す。
type Scorer struct {
	weights Weights
}

// NewScorer はScorerを生成する。
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Score は紛失物と拾得物の一致度を返す。
func (s *Scorer) Score(lost *model.LostItem, found *model.FoundItem) int {
	score := 0

	if lost.Category != "" && strings.EqualFold(strings.TrimSpace(lost.Category), strings.TrimSpace(found.Category)) {
		score += s.weights.Category
	}

	common := CommonTokens(lost.ItemName+" "+lost.Description, found.ItemName+" "+found.Description)
	tokenScore := common * s.weights.TokenPerMatch
	if tokenScore > s.weights.TokenMax {
		tokenScore = s.weights.TokenMax
	}
	score += tokenScore

	score += s.dateScore(lost.DateLost, found.FoundDate)

	if locationOverlaps(lost.LastLocation, found.FoundLocation) {
		score += s.weights.Location
	}

	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (s *Scorer) dateScore(lost, found time.Time) int {
	if lost.IsZero() || found.IsZero() {
		return 0
	}
	days := math.Abs(found.Sub(lost).Hours()) / 24
	switch {
	case days <= 1:
		return s.weights.Within1Day
	case days <= 3:
		return s.weights.Within3Days
	case days <= 7:
		return s.weights.Within7Days
	default:
		return 0
	}
}

// Tokenize は文字・数字以外で分割し、小文字化した長さ4以上のトークンを重複なしで返す。
func Tokenize(text string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, t := range tokenSplitter.Split(strings.ToLower(text), -1) {
		if len([]rune(t)) <= minTokenLength {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// CommonTokens はfoundTextのトークンのうちlostTextにも含まれるものの数を返す。
func CommonTokens(lostText, foundText string) int {
	lostSet := make(map[string]struct{})
	for _, t := range Tokenize(lostText) {
		lostSet[t] = struct{}{}
	}
	n := 0
	for _, t := range Tokenize(foundText) {
		if _, ok := lostSet[t]; ok {
			n++
		}
	}
	return n
}

// locationOverlaps は一方の場所がもう一方を含むかを大文字小文字を区別せずに判定する。
func locationOverlaps(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
