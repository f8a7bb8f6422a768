// Package notify は利用者へのメール通知を提供する。
//
// 通知の失敗は呼び出し元の処理を失敗させない。Notifierは送信を別goroutineで行い、
// 待機時間内に完了しなければErrDeferredを返して処理を続行させる。
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrDeferred は待機時間内に送信が完了しなかったことを表す。
// 送信自体はバックグラウンドで継続する。
var ErrDeferred = errors.New("notification deferred")

// Message は送信するメールを表す。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Dispatcher はメールの送信手段を抽象化する。
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// ResultRecorder は通知結果のメトリクスを記録する。
type ResultRecorder interface {
	RecordNotification(result string)
}

// Notifier は送信時間と待機時間を制限してDispatcherを呼び出す。
type Notifier struct {
	dispatcher  Dispatcher
	logger      *slog.Logger
	recorder    ResultRecorder
	sendTimeout time.Duration
	waitTimeout time.Duration
}

// NewNotifier はNotifierを生成する。
// sendTimeoutは1通の送信にかけられる最大時間、waitTimeoutは呼び出し元が結果を待つ最大時間。
func NewNotifier(dispatcher Dispatcher, logger *slog.Logger, recorder ResultRecorder, sendTimeout, waitTimeout time.Duration) *Notifier {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Second
	}
	return &Notifier{
		dispatcher:  dispatcher,
		logger:      logger,
		recorder:    recorder,
		sendTimeout: sendTimeout,
		waitTimeout: waitTimeout,
	}
}

// Notify はメッセージを送信する。
// 宛先が空の場合は何もしない。送信エラーはログに記録した上で返すが、
// 呼び出し元は警告として扱うこと。
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return nil
	}

	// リクエストのキャンセルに影響されないよう、送信は独立したコンテキストで行う
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.sendTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		err := n.dispatcher.Send(sendCtx, msg)
		n.record(msg, err)
		done <- err
	}()

	timer := time.NewTimer(n.waitTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		n.logger.Warn("notification deferred",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
		return ErrDeferred
	}
}

func (n *Notifier) record(msg Message, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
		n.logger.Error("failed to send notification",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
	if n.recorder != nil {
		n.recorder.RecordNotification(result)
	}
}

// Warning は通知エラーを呼び出し元に返す警告文に変換する。errがnilの場合は空文字を返す。
func Warning(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeferred):
		return "notification deferred"
	default:
		return "notification failed"
	}
}
