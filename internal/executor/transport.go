package executor

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Transport settings tuned for high-concurrency streaming against LLM
// providers: large idle pools, long response-header timeouts for slow
// first tokens, and HTTP/2 pings so stalled streams die instead of
// hanging forever.
var transportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	H2ReadIdleTimeout     time.Duration
	H2PingTimeout         time.Duration
}{
	MaxIdleConns:          1000,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: time.Second,
	ResponseHeaderTimeout: 600 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,
	H2ReadIdleTimeout:     30 * time.Second,
	H2PingTimeout:         15 * time.Second,
}

var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport returns the singleton transport used for direct
// (non-proxied) upstream calls.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		sharedTransport = newBaseTransport()
		sharedTransport.DialContext = newDialer().DialContext
	})
	return sharedTransport
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   transportConfig.DialTimeout,
		KeepAlive: transportConfig.KeepAlive,
	}
}

func newBaseTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          transportConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   transportConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:       transportConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   transportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: transportConfig.ExpectContinueTimeout,
		ResponseHeaderTimeout: transportConfig.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,
	}
	if h2, err := http2.ConfigureTransports(t); err == nil {
		h2.ReadIdleTimeout = transportConfig.H2ReadIdleTimeout
		h2.PingTimeout = transportConfig.H2PingTimeout
	}
	return t
}

// transportCache dedupes transports by proxy URL so each proxy gets one
// connection pool.
type transportCache struct {
	mu    sync.RWMutex
	cache map[string]*http.Transport
}

var globalTransports = &transportCache{cache: make(map[string]*http.Transport)}

func (c *transportCache) getOrCreate(proxyURLStr string) (*http.Transport, error) {
	if proxyURLStr == "" {
		return SharedTransport(), nil
	}
	c.mu.RLock()
	if t := c.cache[proxyURLStr]; t != nil {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	proxyURL, err := url.Parse(proxyURLStr)
	if err != nil {
		return nil, err
	}
	var t *http.Transport
	switch proxyURL.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		t = newBaseTransport()
		t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		t = newBaseTransport()
		t.Proxy = http.ProxyURL(proxyURL)
		t.DialContext = newDialer().DialContext
	default:
		return SharedTransport(), nil
	}

	c.mu.Lock()
	c.cache[proxyURLStr] = t
	c.mu.Unlock()
	return t, nil
}

// HTTPClient returns a client routed through the connection's proxy when
// one is configured. No client-level timeout: streaming responses outlive
// any sane fixed deadline, so cancellation rides the request context.
func HTTPClient(proxyURL string) (*http.Client, error) {
	t, err := globalTransports.getOrCreate(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}
