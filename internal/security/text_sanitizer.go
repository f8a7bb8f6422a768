// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者や掲示板から受け取ったテキストからHTMLを取り除く。
// 届出の品名・説明・場所などはプレーンテキストとして保存し、表示側でエスケープする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はHTMLを含みうる入力をプレーンテキストに変換する。
type TextSanitizer interface {
	// Text は全てのタグを除去し、実体参照を戻し、連続する空白を1つにまとめて返す。
	// 同一入力に対して常に同一出力を返す。
	Text(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はプレーンテキストを返す。
func (s *textSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & や < をエスケープして返すため、保存用に戻す
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
