// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: validation, auth, authorization, not_found, conflict, system
	Action     string // ユーザー向け対処方法
	ResourceID string // 競合の原因となった既存リソースのID（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation    = "validation"
	CategoryAuth          = "auth"
	CategoryAuthorization = "authorization"
	CategoryNotFound      = "not_found"
	CategoryConflict      = "conflict"
	CategorySystem        = "system"
)

// 定義済みエラーコード
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken              = "EMAIL_TAKEN"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeLostItemNotFound        = "LOST_ITEM_NOT_FOUND"
	ErrCodeFoundItemNotFound       = "FOUND_ITEM_NOT_FOUND"
	ErrCodeMatchNotFound           = "MATCH_NOT_FOUND"
	ErrCodeClaimNotFound           = "CLAIM_NOT_FOUND"
	ErrCodeFoundItemAlreadyClaimed = "FOUND_ITEM_ALREADY_CLAIMED"
	ErrCodeLostItemAlreadyMatched  = "LOST_ITEM_ALREADY_MATCHED"
	ErrCodeFoundItemAlreadyMatched = "FOUND_ITEM_ALREADY_MATCHED"
	ErrCodeMatchAlreadyProcessed   = "MATCH_ALREADY_PROCESSED"
	ErrCodeDuplicateClaim          = "DUPLICATE_CLAIM"
	ErrCodeFoundItemNotClaimable   = "FOUND_ITEM_NOT_CLAIMABLE"
	ErrCodeClaimAlreadyProcessed   = "CLAIM_ALREADY_PROCESSED"
	ErrCodeClaimForbidden          = "CLAIM_FORBIDDEN"
	ErrCodeFoundItemNotPending     = "FOUND_ITEM_NOT_PENDING"
	ErrCodeLostItemNotOpen         = "LOST_ITEM_NOT_OPEN"
	ErrCodeItemHasActiveClaim      = "ITEM_HAS_ACTIVE_CLAIM"
	ErrCodeInvalidImage            = "INVALID_IMAGE"
	ErrCodeImageTooLarge           = "IMAGE_TOO_LARGE"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスのエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryConflict,
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  message,
		Category: CategoryAuthorization,
		Action:   "この操作を行う権限がありません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewLostItemNotFoundError は紛失物が見つからない場合のエラーを生成する。
func NewLostItemNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeLostItemNotFound,
		Message:  fmt.Sprintf("指定された紛失物が見つかりません: %s", id),
		Category: CategoryNotFound,
		Action:   "紛失物IDを確認してください。",
	}
}

// NewFoundItemNotFoundError は拾得物が見つからない場合のエラーを生成する。
func NewFoundItemNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeFoundItemNotFound,
		Message:  fmt.Sprintf("指定された拾得物が見つかりません: %s", id),
		Category: CategoryNotFound,
		Action:   "拾得物IDを確認してください。",
	}
}

// NewMatchNotFoundError はマッチが見つからない場合のエラーを生成する。
func NewMatchNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeMatchNotFound,
		Message:  fmt.Sprintf("指定されたマッチが見つかりません: %s", id),
		Category: CategoryNotFound,
		Action:   "マッチIDを確認してください。",
	}
}

// NewClaimNotFoundError は返還申請が見つからない場合のエラーを生成する。
func NewClaimNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeClaimNotFound,
		Message:  fmt.Sprintf("指定された返還申請が見つかりません: %s", id),
		Category: CategoryNotFound,
		Action:   "申請IDを確認してください。",
	}
}

// NewFoundItemAlreadyClaimedError は返還済みの拾得物に対する操作エラーを生成する。
func NewFoundItemAlreadyClaimedError() *APIError {
	return &APIError{
		Code:     ErrCodeFoundItemAlreadyClaimed,
		Message:  "この拾得物は既に持ち主に返還されています。",
		Category: CategoryConflict,
		Action:   "別の拾得物を選択してください。",
	}
}

// NewLostItemAlreadyMatchedError は紛失物が既にマッチ済みの場合のエラーを生成する。
func NewLostItemAlreadyMatchedError() *APIError {
	return &APIError{
		Code:     ErrCodeLostItemAlreadyMatched,
		Message:  "この紛失物は既に別の拾得物とマッチしています。",
		Category: CategoryConflict,
		Action:   "既存のマッチを却下してから再度お試しください。",
	}
}

// NewFoundItemAlreadyMatchedError は拾得物が既にマッチ済みの場合のエラーを生成する。
func NewFoundItemAlreadyMatchedError() *APIError {
	return &APIError{
		Code:     ErrCodeFoundItemAlreadyMatched,
		Message:  "この拾得物は既に別の紛失物とマッチしています。",
		Category: CategoryConflict,
		Action:   "既存のマッチを却下してから再度お試しください。",
	}
}

// NewMatchAlreadyProcessedError は処理済みマッチへの操作エラーを生成する。
func NewMatchAlreadyProcessedError() *APIError {
	return &APIError{
		Code:     ErrCodeMatchAlreadyProcessed,
		Message:  "このマッチは既に処理されています。",
		Category: CategoryConflict,
		Action:   "マッチ一覧を再読み込みしてください。",
	}
}

// NewDuplicateClaimError は同一拾得物への重複申請エラーを生成する。
// existingClaimIDには既存の申請IDを設定する。
func NewDuplicateClaimError(existingClaimID string) *APIError {
	return &APIError{
		Code:       ErrCodeDuplicateClaim,
		Message:    "この拾得物には既に返還申請を提出しています。",
		Category:   CategoryConflict,
		Action:     "既存の申請の状況を確認してください。",
		ResourceID: existingClaimID,
	}
}

// NewFoundItemNotClaimableError は申請を受け付けられない状態の拾得物へのエラーを生成する。
func NewFoundItemNotClaimableError(status FoundItemStatus) *APIError {
	return &APIError{
		Code:     ErrCodeFoundItemNotClaimable,
		Message:  fmt.Sprintf("この拾得物は現在申請を受け付けていません（状態: %s）。", status),
		Category: CategoryConflict,
		Action:   "拾得物の状態を確認してください。",
	}
}

// NewClaimAlreadyProcessedError は処理済み申請への操作エラーを生成する。
func NewClaimAlreadyProcessedError(status ClaimStatus) *APIError {
	return &APIError{
		Code:     ErrCodeClaimAlreadyProcessed,
		Message:  fmt.Sprintf("この返還申請は既に処理されています（状態: %s）。", status),
		Category: CategoryConflict,
		Action:   "申請一覧を再読み込みしてください。",
	}
}

// NewClaimForbiddenError は申請者本人でも管理者でもない場合のエラーを生成する。
func NewClaimForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeClaimForbidden,
		Message:  "この返還申請を操作する権限がありません。",
		Category: CategoryAuthorization,
		Action:   "申請者本人としてログインしてください。",
	}
}

// NewFoundItemNotPendingError は確認待ちでない拾得物の確認処理エラーを生成する。
func NewFoundItemNotPendingError(status FoundItemStatus) *APIError {
	return &APIError{
		Code:     ErrCodeFoundItemNotPending,
		Message:  fmt.Sprintf("この拾得物は確認待ちではありません（状態: %s）。", status),
		Category: CategoryConflict,
		Action:   "拾得物の状態を確認してください。",
	}
}

// NewLostItemNotOpenError は解決済みの紛失物への操作エラーを生成する。
func NewLostItemNotOpenError(status LostItemStatus) *APIError {
	return &APIError{
		Code:     ErrCodeLostItemNotOpen,
		Message:  fmt.Sprintf("この紛失物は既に解決済みです（状態: %s）。", status),
		Category: CategoryConflict,
		Action:   "紛失物の状態を確認してください。",
	}
}

// NewItemHasActiveClaimError は承認済み申請が存在する物品の削除エラーを生成する。
func NewItemHasActiveClaimError() *APIError {
	return &APIError{
		Code:     ErrCodeItemHasActiveClaim,
		Message:  "承認済みの返還申請があるため削除できません。",
		Category: CategoryConflict,
		Action:   "返還記録として保持してください。",
	}
}

// NewInvalidImageError は画像形式エラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("画像を処理できませんでした: %s", reason),
		Category: CategoryValidation,
		Action:   "JPEGまたはPNG形式の画像をアップロードしてください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: CategoryValidation,
		Action:   "画像を縮小してから再度アップロードしてください。",
	}
}

// NewInternalError はユーザーに詳細を返さない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
