package binance

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	gobinance "github.com/adshao/go-binance/v2"

	"klineflow/config"
)

// NewHTTPClient builds the pooled HTTP client used for every Binance call.
// Outbound connections are bound to LocalIP when one is configured.
func NewHTTPClient(cfg config.BinanceSourceConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewAPIClient returns a go-binance spot client sharing httpClient and pointed
// at the host of the configured klines URL.
func NewAPIClient(cfg config.BinanceSourceConfig, httpClient *http.Client) (*gobinance.Client, error) {
	client := gobinance.NewClient("", "")
	if httpClient != nil {
		client.HTTPClient = httpClient
	}

	base, err := apiBase(cfg.URL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = base
	return client, nil
}

func apiBase(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid source url %q: scheme and host are required", raw)
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), nil
}
