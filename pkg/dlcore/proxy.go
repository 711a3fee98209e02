package dlcore

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

var (
	ErrEmptyProxyURL     = errors.New("proxy URL cannot be empty")
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL   = errors.New("invalid proxy URL")
)

var supportedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// DefaultConnectTimeout and DefaultReadTimeout are the configurable
// default timeouts.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// NewTransport builds an *http.Transport configured per ps.Mode:
//   - ProxyNone forces a direct connection.
//   - ProxySystem resolves HTTP_PROXY/HTTPS_PROXY/NO_PROXY via
//     httpproxy.Config, matching what curl/Go's own ProxyFromEnvironment
//     read, but through an explicit config we can unit test without
//     mutating process environment.
//   - ProxyManual builds a proxy func or a SOCKS5 dialer from the supplied
//     URL, with optional basic auth.
func NewTransport(ps ProxySettings) (*http.Transport, error) {
	t := &http.Transport{
		DialContext: (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
	}

	switch ps.Mode {
	case ProxyNone, "":
		t.Proxy = nil
		return t, nil

	case ProxySystem:
		cfg := httpproxy.Config{
			HTTPProxy:  orEnv(ps.HTTPProxy, "HTTP_PROXY"),
			HTTPSProxy: orEnv(ps.HTTPSProxy, "HTTPS_PROXY"),
			NoProxy:    orEnv(ps.NoProxy, "NO_PROXY"),
		}
		t.Proxy = func(req *http.Request) (*url.URL, error) {
			return cfg.ProxyFunc()(req.URL)
		}
		return t, nil

	case ProxyManual:
		return manualTransport(t, ps)

	default:
		return nil, ErrUnsupportedScheme
	}
}

func orEnv(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

func manualTransport(t *http.Transport, ps ProxySettings) (*http.Transport, error) {
	if ps.HTTPSProxy == "" && ps.HTTPProxy == "" {
		return nil, ErrEmptyProxyURL
	}
	raw := ps.HTTPSProxy
	if raw == "" {
		raw = ps.HTTPProxy
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidProxyURL
	}
	if !supportedProxySchemes[parsed.Scheme] {
		return nil, ErrUnsupportedScheme
	}
	if ps.Username != "" {
		parsed.User = url.UserPassword(ps.Username, ps.Password)
	}

	if parsed.Scheme == "socks5" {
		var auth *proxy.Auth
		if parsed.User != nil {
			pass, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		t.DialContext = nil
		t.Dial = dialer.Dial
		return t, nil
	}

	t.Proxy = http.ProxyURL(parsed)
	return t, nil
}
