package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外部への送信先を制限する。
// 掲示板フィードの取得とメール配信APIの呼び出しが対象。
type SSRFGuardService interface {
	// NewSafeClient は送信先を公開アドレスの80/443番ポートに限定したHTTPクライアントを返す。
	// 接続先の検査はDNS解決後に行われる。maxResponseSizeが正ならボディの読み取り量も制限する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL は設定された掲示板URLやメール配信APIのURLを接続前に検査する。
	// 拒否した場合のエラーはErrUnsafeDestinationを含む。
	ValidateURL(rawURL string) error
}

// ErrUnsafeDestination は送信先が許可されないことを表す。
var ErrUnsafeDestination = errors.New("unsafe outbound destination")

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は送信先として拒否するアドレス範囲。
// 169.254.0.0/16 はクラウドのメタデータIPを含む。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlのクライアントを生成する。
// プライベート、ループバック、リンクローカルの各アドレスはダイヤル時に拒否される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(config).Client
	if maxResponseSize > 0 {
		client.Transport = &limitedTransport{base: client.Transport, limit: maxResponseSize}
	}
	return client
}

// ValidateURL はDNS解決を伴わない静的な検査を行う。
// ホスト名が内部アドレスに解決される場合はNewSafeClientのダイヤル時に拒否される。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrUnsafeDestination)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrUnsafeDestination, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeDestination, scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host in %s", ErrUnsafeDestination, rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: address %s is internal", ErrUnsafeDestination, addr)
		}
		return nil
	}

	if isLocalHostname(host) {
		return fmt.Errorf("%w: host %s is local", ErrUnsafeDestination, host)
	}
	return nil
}

// isBlockedAddr はゾーンを除きIPv4射影アドレスを展開してから範囲を照合する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.WithZone("").Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// isLocalHostname はlocalhostとそのサブドメインを判定する。
func isLocalHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
