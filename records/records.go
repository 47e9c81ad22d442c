package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/meshforge/internal/tlsutil"
	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// Memory record status values written by the generation pipeline.
const (
	StatusProcessing3D = "processing_3d"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

const defaultTimeout = 30 * time.Second

// Memory mirrors the externally owned memory row.
type Memory struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	Status      string `json:"status,omitempty"`
	FigurineURL string `json:"figurine_url,omitempty"`
	Model3DURL  string `json:"model_3d_url,omitempty"`
}

// Config 记录存储网关配置
type Config struct {
	// BaseURL 存储后端 REST 根地址，表名由网关追加
	BaseURL string
	// ServiceKey 特权密钥，记录读写均使用
	ServiceKey string
	// Table 记录表名
	Table string
	// Timeout 单次请求超时
	Timeout time.Duration
}

// Store 是记录存储网关。
type Store struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New 创建记录存储网关
func New(cfg Config, logger *zap.Logger) *Store {
	if cfg.Table == "" {
		cfg.Table = "memories"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Store{
		cfg:        cfg,
		httpClient: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:     logger.With(zap.String("component", "records")),
	}
}

// GetSourceImageURL 返回记录的源图引用。
// 记录不存在返回 NOT_FOUND；记录存在但 figurine_url 为空返回 MISSING_FIELD。
func (s *Store) GetSourceImageURL(ctx context.Context, recordID string) (string, error) {
	rows, err := s.selectByID(ctx, recordID, "id,user_id,figurine_url")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", types.NewError(types.ErrNotFound,
			fmt.Sprintf("memory not found: %s", recordID)).
			WithSource("records")
	}
	if rows[0].FigurineURL == "" {
		return "", types.NewError(types.ErrMissingField,
			fmt.Sprintf("figurine_url missing for memory: %s", recordID)).
			WithSource("records")
	}
	return rows[0].FigurineURL, nil
}

// SetStatus 更新记录状态并返回受影响的行。
// 更新前先做存在性检查，记录不存在返回 NOT_FOUND。
func (s *Store) SetStatus(ctx context.Context, recordID, status string) ([]Memory, error) {
	return s.updateField(ctx, recordID, map[string]string{"status": status})
}

// SetResultReference 更新记录的结果引用字段并返回受影响的行。
func (s *Store) SetResultReference(ctx context.Context, recordID, path string) ([]Memory, error) {
	return s.updateField(ctx, recordID, map[string]string{"model_3d_url": path})
}

// Probe 以一次单行查询验证存储连通性，供健康检查使用。
func (s *Store) Probe(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?select=id&limit=1", s.tableURL())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("store probe failed with status %d", resp.StatusCode)
	}
	return nil
}

// updateField 先做存在性检查，再以单独一次往返更新一个字段。
// 多字段修改由调用方发起多次往返，不保证原子性。
func (s *Store) updateField(ctx context.Context, recordID string, patch map[string]string) ([]Memory, error) {
	rows, err := s.selectByID(ctx, recordID, "id,user_id")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("memory not found: %s", recordID)).
			WithSource("records")
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode record update").
			WithCause(err).
			WithSource("records")
	}

	endpoint := fmt.Sprintf("%s?id=eq.%s", s.tableURL(), url.QueryEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build record update request").
			WithCause(err).
			WithSource("records")
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	// 要求后端返回更新后的行
	req.Header.Set("Prefer", "return=representation")

	updated, err := s.doRows(req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("record updated",
		zap.String("record_id", recordID),
		zap.Int("rows", len(updated)),
	)
	return updated, nil
}

// selectByID 按主键查询若干列，返回匹配的行（可能为空）。
func (s *Store) selectByID(ctx context.Context, recordID, columns string) ([]Memory, error) {
	endpoint := fmt.Sprintf("%s?id=eq.%s&select=%s",
		s.tableURL(), url.QueryEscape(recordID), url.QueryEscape(columns))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build record query").
			WithCause(err).
			WithSource("records")
	}
	s.setHeaders(req)

	return s.doRows(req)
}

// doRows 执行请求并将 JSON 数组响应解码为行集合。
func (s *Store) doRows(req *http.Request) ([]Memory, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "record store request failed").
			WithCause(err).
			WithSource("records")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to read record store response").
			WithCause(err).
			WithSource("records")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("record store returned status %d: %s", resp.StatusCode, storeErrorMessage(data))).
			WithSource("records")
	}

	var rows []Memory
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to decode record store response").
			WithCause(err).
			WithSource("records")
	}
	return rows, nil
}

func (s *Store) tableURL() string {
	return fmt.Sprintf("%s/%s", s.cfg.BaseURL, s.cfg.Table)
}

func (s *Store) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("Accept", "application/json")
}

// storeErrorMessage 尽力从后端错误负载中提取 message 字段。
func storeErrorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Msg != "" {
			return payload.Msg
		}
	}
	return string(data)
}
