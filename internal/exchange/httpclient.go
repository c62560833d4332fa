package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig - настройки HTTP клиента для REST API бирж
type HTTPClientConfig struct {
	Timeout             time.Duration // общий таймаут запроса
	DialTimeout         time.Duration // таймаут установки TCP соединения
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultHTTPClientConfig возвращает настройки по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             10 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

var (
	globalHTTPClient     *http.Client
	globalHTTPClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает общий HTTP клиент с пулом соединений
// Один пул на процесс: котировки и ордера идут к одному хосту,
// и переиспользование keep-alive соединений снижает латентность
func GetGlobalHTTPClient() *http.Client {
	globalHTTPClientOnce.Do(func() {
		globalHTTPClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalHTTPClient
}

// NewHTTPClient создает HTTP клиент с заданной конфигурацией
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}
