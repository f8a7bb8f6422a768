// Package handler はHTTPハンドラーとルーティングを提供する。
//
// 成功レスポンスは {"success":true,"data":...}、エラーレスポンスは
// {"success":false,"error":{...}} の形式で返す。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// successEnvelope は成功レスポンスの統一フォーマット。
// Warningsには処理は完了したが通知などが失敗した場合の警告を含める。
type successEnvelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

// statusOverrides はカテゴリからの既定値と異なるステータスを返すエラーコード。
var statusOverrides = map[string]int{
	model.ErrCodeImageTooLarge: http.StatusRequestEntityTooLarge,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeData は成功レスポンスを書き込む。
func writeData(w http.ResponseWriter, status int, data any, warnings ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Warnings: warnings})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外は詳細をログにのみ記録し、内部エラーとして返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status, ok := statusOverrides[apiErr.Code]
		if !ok {
			status = middleware.StatusForCategory(apiErr.Category)
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// decodeJSON はリクエストボディをdstにデコードし、validateタグで検証する。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました。"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage は検証エラーをフィールドごとのメッセージに変換する。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "入力内容が正しくありません。"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%sは必須です", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%sはメールアドレス形式で入力してください", fe.Field()))
		case "uuid":
			msgs = append(msgs, fmt.Sprintf("%sはUUID形式で入力してください", fe.Field()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%sはYYYY-MM-DD形式で入力してください", fe.Field()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%sの長さが範囲外です（%s=%s）", fe.Field(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%sが正しくありません（%s）", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "、")
}

// pathID はURLパスの{id}を返す。UUID形式でなければnotFoundのエラーを書き込んでfalseを返す。
func pathID(w http.ResponseWriter, r *http.Request, notFound func(id string) *model.APIError) (string, bool) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		middleware.WriteAPIError(w, notFound(id))
		return "", false
	}
	return id, true
}

// queryID はクエリパラメータのidを返す。未指定は空文字で通し、UUID形式でなければ400を書き込む。
func queryID(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	id := r.URL.Query().Get(key)
	if id != "" && uuid.Validate(id) != nil {
		middleware.WriteAPIError(w, model.NewValidationError(key+"はUUID形式で指定してください"))
		return "", false
	}
	return id, true
}

// actorFrom は認証済みの操作者を返す。未認証の場合は401を書き込んでfalseを返す。
func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return model.Actor{}, false
	}
	return actor, true
}

// pagination はlimitとoffsetのクエリパラメータを読み取る。不正な値は0として扱う。
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
