package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/url"
	"time"

	"StrikeRate/internal/config"

	"github.com/sirupsen/logrus"
)

// NewHTTPClient 链上 RPC 使用的 HTTP 客户端（代理、超时、gzip 解压）
func NewHTTPClient(cfg *config.ChainConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", cfg.Proxy).Warn("代理地址解析失败，将不使用代理")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", cfg.Proxy).Info("RPC 客户端已配置代理")
		}
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &rpcTransport{base: transport, logger: logger},
	}
}

// rpcTransport 统一 User-Agent、请求 gzip，并在 debug 级别记录每次往返
type rpcTransport struct {
	base   http.RoundTripper
	logger *logrus.Logger
}

const userAgent = "strikerate-rpc/1"

func (t *rpcTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Accept-Encoding", "gzip")
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		t.logger.WithError(err).WithField("host", r.URL.Host).Debug("RPC 请求失败")
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"host":    r.URL.Host,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("RPC 请求完成")
	return decompress(resp, t.logger), nil
}

// decompress 服务端返回 gzip 时替换为解压后的 Body
func decompress(resp *http.Response, logger *logrus.Logger) *http.Response {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		logger.WithError(err).Warn("gzip解压失败，返回原始响应")
		return resp
	}
	resp.Body = &gzipReadCloser{Reader: gz, closer: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp
}

// gzipReadCloser 关闭时同时关闭原始响应体
type gzipReadCloser struct {
	*gzip.Reader
	closer io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	if err := g.Reader.Close(); err != nil {
		_ = g.closer.Close()
		return err
	}
	return g.closer.Close()
}
