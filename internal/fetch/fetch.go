// Package fetch downloads raw bytes over HTTP with a bounded timeout and
// an upper size limit. 供生成流水线拉取源图与厂商结果文件使用。
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/meshforge/internal/tlsutil"
	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// 未配置时的下载边界。
const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 256 << 20
)

// Config 下载器配置
type Config struct {
	// 单次下载超时
	Timeout time.Duration
	// 单次下载的字节上限
	MaxBytes int64
	// 跳过证书校验（仅在厂商结果域证书链损坏时启用）
	InsecureSkipVerify bool
}

// Payload 一次下载的产物。
type Payload struct {
	// Data 响应体全部字节
	Data []byte
	// ContentType 响应的 Content-Type 头，服务器未给时为空
	ContentType string
}

// Fetcher 按固定超时与大小上限下载字节流。所有失败统一归一为 DOWNLOAD_ERROR。
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// New 创建下载器
func New(cfg Config, logger *zap.Logger) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	client := tlsutil.SecureHTTPClient(timeout)
	if cfg.InsecureSkipVerify {
		client = tlsutil.InsecureHTTPClient(timeout)
		logger.Warn("certificate verification disabled for downloads")
	}

	return &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		logger:   logger.With(zap.String("component", "fetch")),
	}
}

// Fetch 下载 URL 指向的全部字节。
// 网络错误、超时、协议错误、非 2xx 响应与超限响应均归一为
// DOWNLOAD_ERROR，不重试。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrDownload, "invalid download URL").
			WithCause(err).
			WithSource("fetch")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrDownload, "download failed").
			WithCause(err).
			WithSource("fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrDownload,
			fmt.Sprintf("download failed with status %d", resp.StatusCode)).
			WithSource("fetch")
	}

	// 声明的长度已经超限就不必读了
	if resp.ContentLength > f.maxBytes {
		return nil, types.NewError(types.ErrDownload,
			fmt.Sprintf("download size %d exceeds limit of %d bytes", resp.ContentLength, f.maxBytes)).
			WithSource("fetch")
	}

	// 多读一字节，区分恰好到上限与超限
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrDownload, "failed to read download body").
			WithCause(err).
			WithSource("fetch")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, types.NewError(types.ErrDownload,
			fmt.Sprintf("download exceeds limit of %d bytes", f.maxBytes)).
			WithSource("fetch")
	}

	payload := &Payload{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}

	f.logger.Debug("download complete",
		zap.Int("bytes", len(data)),
		zap.String("content_type", payload.ContentType),
		zap.Duration("duration", time.Since(start)),
	)

	return payload, nil
}
