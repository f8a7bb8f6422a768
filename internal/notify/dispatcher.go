package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// LogDispatcher は送信せずにログへ出力する。開発環境用。
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher はLogDispatcherを生成する。
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send はメッセージをログに出力する。
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "notification",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.HTML)),
	)
	return nil
}

// SMTPConfig はSMTP送信の設定を保持する。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout は接続から送信完了までの上限。コンテキストの期限が先ならそちらを使う。
	Timeout  time.Duration
}

// SMTPDispatcher はSMTPでメールを送信する。
type SMTPDispatcher struct {
	config SMTPConfig
}

// NewSMTPDispatcher はSMTPDispatcherを生成する。
func NewSMTPDispatcher(config SMTPConfig) *SMTPDispatcher {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SMTPDispatcher{config: config}
}

// Send はHTMLメールをSMTPで送信する。
// 接続には期限を設定するため、応答しないサーバーでもctxの期限で打ち切られる。
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := newMailMessage(d.config.From, msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(d.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(d.config.Timeout),
		mail.WithDialContextFunc(deadlineDialer(d.config.Timeout)),
	}
	if d.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.config.Username),
			mail.WithPassword(d.config.Password),
		)
	}
	client, err := mail.NewClient(d.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// newMailMessage はHTML本文のメールを組み立てる。
// 件名の改行は除去し、非ASCII文字はRFC 2047でエンコードされる。
func newMailMessage(from string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(strings.NewReplacer("\r", "", "\n", "").Replace(msg.Subject))
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// deadlineDialer は接続にI/O期限を設定するダイヤラーを返す。
// 期限はtimeoutとctxの期限のうち早い方。
func deadlineDialer(timeout time.Duration) mail.DialContextFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// HTTPDispatcher はHTTPのメール配信APIにJSONで送信する。
type HTTPDispatcher struct {
	client   *http.Client
	endpoint string
	apiKey   string
	from     string
}

// NewHTTPDispatcher はHTTPDispatcherを生成する。
// clientにはSSRF防止機能付きのクライアントを渡すこと。
func NewHTTPDispatcher(client *http.Client, endpoint, apiKey, from string) *HTTPDispatcher {
	return &HTTPDispatcher{client: client, endpoint: endpoint, apiKey: apiKey, from: from}
}

type httpMailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Send はメール配信APIを呼び出す。2xx以外のステータスはエラーとする。
func (d *HTTPDispatcher) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(httpMailRequest{From: d.from, To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("failed to encode mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail api request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail api returned status %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = (*SMTPDispatcher)(nil)
	_ Dispatcher = (*HTTPDispatcher)(nil)
)
