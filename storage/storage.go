package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/meshforge/internal/tlsutil"
	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultSignedURLTTL = time.Hour

	// modelFolder 生成结果在桶内的固定子目录
	modelFolder = "3d-models"
	// anonymousFolder 无归属用户时的顶层目录
	anonymousFolder = "generated"
)

// Config 对象存储客户端配置
type Config struct {
	// BaseURL 对象存储 REST 根地址
	BaseURL string
	// ServiceKey 特权密钥
	ServiceKey string
	// Bucket 目标桶名
	Bucket string
	// Timeout 单次请求超时
	Timeout time.Duration
	// SignedURLTTL 签名下载链接有效期
	SignedURLTTL time.Duration
}

// Client 是对象存储客户端。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// UploadResult 上传结果：桶内对象键与签名下载链接。
type UploadResult struct {
	StoragePath string
	SignedURL   string
}

// New 创建对象存储客户端
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedURLTTL
	}

	return &Client{
		cfg:        cfg,
		httpClient: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:     logger.With(zap.String("component", "storage")),
	}
}

// ObjectPath 构造生成结果的桶内对象键。
// 带用户时为 {userID}/3d-models/{filename}，匿名时落入 generated/ 目录。
func ObjectPath(userID, filename string) string {
	if userID != "" {
		return fmt.Sprintf("%s/%s/%s", userID, modelFolder, filename)
	}
	return fmt.Sprintf("%s/%s/%s", anonymousFolder, modelFolder, filename)
}

// NormalizePath 将存量记录里的源图引用归一化为桶内对象键。
//
// 不含 "://" 的输入视为既有对象键，仅剥掉前导斜杠。完整 URL 则按路径段
// 定位桶名并返回其后的剩余段；桶名缺失或位于末尾时退回整个 URL 路径
// （去掉前导斜杠）。
func NormalizePath(urlOrPath, bucket string) (string, error) {
	if urlOrPath == "" {
		return "", types.NewError(types.ErrValidation, "empty figurine URL/path").
			WithSource("storage")
	}
	if !strings.Contains(urlOrPath, "://") {
		return strings.TrimLeft(urlOrPath, "/"), nil
	}

	parsed, err := url.Parse(urlOrPath)
	if err != nil {
		return "", types.NewError(types.ErrValidation,
			fmt.Sprintf("invalid figurine URL: %s", urlOrPath)).
			WithCause(err).
			WithSource("storage")
	}

	var segments []string
	for _, seg := range strings.Split(parsed.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	for i, seg := range segments {
		if seg == bucket && i+1 < len(segments) {
			return strings.Join(segments[i+1:], "/"), nil
		}
	}
	return strings.TrimLeft(parsed.Path, "/"), nil
}

// UploadModel 上传模型字节并立即签名下载链接。
func (c *Client) UploadModel(ctx context.Context, userID, filename string, data []byte, contentType string) (*UploadResult, error) {
	objectPath := ObjectPath(userID, filename)

	endpoint := fmt.Sprintf("%s/object/%s/%s", c.cfg.BaseURL, c.cfg.Bucket, escapePath(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrUpload, "failed to build upload request").
			WithCause(err).
			WithSource("storage")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUpload, "upload request failed").
			WithCause(err).
			WithSource("storage")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrUpload,
			fmt.Sprintf("storage upload error: HTTP %d: %s", resp.StatusCode, backendMessage(body))).
			WithSource("storage")
	}

	signedURL, err := c.sign(ctx, objectPath, c.cfg.SignedURLTTL)
	if err != nil {
		return nil, err
	}

	c.logger.Info("model uploaded",
		zap.String("storage_path", objectPath),
		zap.Int("bytes", len(data)),
	)
	return &UploadResult{StoragePath: objectPath, SignedURL: signedURL}, nil
}

// CreateSignedURL 为既有对象签名下载链接，输入可以是对象键或完整 URL。
func (c *Client) CreateSignedURL(ctx context.Context, urlOrPath string) (string, error) {
	objectPath, err := NormalizePath(urlOrPath, c.cfg.Bucket)
	if err != nil {
		return "", err
	}
	return c.sign(ctx, objectPath, c.cfg.SignedURLTTL)
}

// sign 请求后端为对象签名；相对地址拼接回存储根地址。
func (c *Client) sign(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(map[string]int{"expiresIn": int(ttl.Seconds())})
	if err != nil {
		return "", types.NewError(types.ErrSignedURL, "failed to encode sign request").
			WithCause(err).
			WithSource("storage")
	}

	endpoint := fmt.Sprintf("%s/object/sign/%s/%s", c.cfg.BaseURL, c.cfg.Bucket, escapePath(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrSignedURL, "failed to build sign request").
			WithCause(err).
			WithSource("storage")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrSignedURL, "sign request failed").
			WithCause(err).
			WithSource("storage")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewError(types.ErrSignedURL, "failed to read sign response").
			WithCause(err).
			WithSource("storage")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", types.NewError(types.ErrSignedURL,
			fmt.Sprintf("storage sign error: HTTP %d: %s", resp.StatusCode, backendMessage(body))).
			WithSource("storage")
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", types.NewError(types.ErrSignedURL, "failed to decode sign response").
			WithCause(err).
			WithSource("storage")
	}
	if result.SignedURL == "" {
		return "", types.NewError(types.ErrSignedURL, "invalid signed URL response from storage").
			WithSource("storage")
	}

	if strings.HasPrefix(result.SignedURL, "http://") || strings.HasPrefix(result.SignedURL, "https://") {
		return result.SignedURL, nil
	}
	return c.cfg.BaseURL + "/" + strings.TrimLeft(result.SignedURL, "/"), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
}

// escapePath 逐段转义对象键，保留段间斜杠。
func escapePath(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// backendMessage 尽力从存储后端错误负载中提取 message 字段。
func backendMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(data)
}
