// =============================================================================
// MeshForge Image-to-3D Vendor Client
// =============================================================================
// Submit / query / poll against the Hunyuan To3D HTTP API. Request signing
// lives in signer.go; result-format selection follows the vendor's file tag
// with a first-URL fallback.
// =============================================================================

package threed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/meshforge/internal/tlsutil"
	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// 厂商侧任务状态
const (
	StatusWait = "WAIT"
	StatusRun  = "RUN"
	StatusDone = "DONE"
	StatusFail = "FAIL"
)

const (
	apiVersion   = "2025-05-13"
	actionSubmit = "SubmitHunyuanTo3DJob"
	actionQuery  = "QueryHunyuanTo3DJob"

	defaultEndpoint     = "https://ai3d.tencentcloudapi.com"
	defaultRegion       = "ap-guangzhou"
	defaultResultFormat = "STL"
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// Config holds the configuration for the vendor client.
type Config struct {
	// SecretID 厂商访问密钥 ID
	SecretID string

	// SecretKey 厂商访问密钥
	SecretKey string

	// Region 服务地域，默认 ap-guangzhou
	Region string

	// Endpoint API 入口，默认官方地址
	Endpoint string

	// ResultFormat 期望的结果格式标签，默认 STL
	ResultFormat string

	// Timeout 单次 HTTP 调用超时，默认 30s
	Timeout time.Duration

	// PollInterval 轮询间隔，默认 5s
	PollInterval time.Duration

	// PollTimeout 轮询总时长上限，默认 5min
	PollTimeout time.Duration
}

// File3D 任务结果中的单个模型文件。
type File3D struct {
	Type            string `json:"Type"`
	URL             string `json:"Url"`
	PreviewImageURL string `json:"PreviewImageUrl,omitempty"`
}

// JobResult 任务查询结果。
type JobResult struct {
	JobID         string   `json:"JobId"`
	Status        string   `json:"Status"`
	ErrorCode     string   `json:"ErrorCode"`
	ErrorMessage  string   `json:"ErrorMessage"`
	ResultFile3Ds []File3D `json:"ResultFile3Ds"`
	RequestID     string   `json:"RequestId"`
}

// apiError 厂商错误体。
type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// sleeper 轮询间隔的注入点，测试用假实现替换真实计时器。
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client 调用厂商图生 3D 接口。
type Client struct {
	cfg        Config
	host       string
	httpClient *http.Client
	logger     *zap.Logger
	sleeper    sleeper
}

// New creates a vendor client with the given config.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.ResultFormat == "" {
		cfg.ResultFormat = defaultResultFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	host := cfg.Endpoint
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	return &Client{
		cfg:        cfg,
		host:       host,
		httpClient: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:     logger.With(zap.String("component", "threed")),
		sleeper:    timerSleeper{},
	}
}

// Submit 提交图生 3D 任务并返回任务 ID。
func (c *Client) Submit(ctx context.Context, imageBase64 string, enablePBR bool) (string, error) {
	params := struct {
		ImageBase64  string `json:"ImageBase64"`
		ResultFormat string `json:"ResultFormat"`
		EnablePBR    bool   `json:"EnablePBR"`
	}{
		ImageBase64:  imageBase64,
		ResultFormat: c.cfg.ResultFormat,
		EnablePBR:    enablePBR,
	}

	result, err := c.call(ctx, actionSubmit, params)
	if err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", types.NewError(types.ErrSubmit, "vendor returned empty job id").
			WithSource("threed")
	}

	c.logger.Info("job submitted",
		zap.String("job_id", result.JobID),
		zap.Bool("enable_pbr", enablePBR),
	)
	return result.JobID, nil
}

// Query 查询任务状态与结果文件。
func (c *Client) Query(ctx context.Context, jobID string) (*JobResult, error) {
	params := struct {
		JobID string `json:"JobId"`
	}{JobID: jobID}

	return c.call(ctx, actionQuery, params)
}

// PollUntilTerminal 轮询任务直至终态并返回最后一次查询结果。
// 截止时间在每轮查询之前检查；任务 FAIL 与查询出错都立刻中止轮询。
func (c *Client) PollUntilTerminal(ctx context.Context, jobID string) (*JobResult, error) {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, types.NewError(types.ErrTimeout,
				fmt.Sprintf("timed out waiting for job %s to finish", jobID)).
				WithRetryable(true).
				WithSource("threed")
		}

		result, err := c.Query(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case StatusFail:
			return nil, types.NewError(types.ErrJobFailed,
				fmt.Sprintf("vendor job failed (%s): %s", result.ErrorCode, result.ErrorMessage)).
				WithSource("threed")
		case StatusDone:
			c.logger.Info("job finished",
				zap.String("job_id", jobID),
				zap.Int("files", len(result.ResultFile3Ds)),
			)
			return result, nil
		}

		if err := c.sleeper.sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// SelectResultURL 从结果文件中挑出目标格式的下载地址。
// 格式标签大小写不敏感；未命中或命中项无地址时退回第一个带地址的文件。
func (c *Client) SelectResultURL(result *JobResult) (string, error) {
	format := strings.ToUpper(c.cfg.ResultFormat)

	var resultURL string
	for _, file := range result.ResultFile3Ds {
		if file.Type != "" && strings.ToUpper(file.Type) == format {
			resultURL = file.URL
			break
		}
	}
	if resultURL == "" {
		for _, file := range result.ResultFile3Ds {
			if file.URL != "" {
				resultURL = file.URL
				break
			}
		}
	}
	if resultURL == "" {
		return "", types.NewError(types.ErrResultNotFound,
			fmt.Sprintf("%s URL not found in job result", format)).
			WithSource("threed")
	}
	return resultURL, nil
}

// call 执行一次签名后的厂商调用并解包响应信封。
func (c *Client) call(ctx context.Context, action string, params any) (*JobResult, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, types.NewError(errCodeFor(action), "failed to encode vendor request").
			WithCause(err).
			WithSource("threed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(errCodeFor(action), "failed to build vendor request").
			WithCause(err).
			WithSource("threed")
	}

	now := time.Now().UTC()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", apiVersion)
	req.Header.Set("X-TC-Region", c.cfg.Region)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("Authorization",
		buildAuthorization(c.cfg.SecretID, c.cfg.SecretKey, c.host, action, payload, now))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(errCodeFor(action), "vendor request failed").
			WithCause(err).
			WithRetryable(true).
			WithSource("threed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(errCodeFor(action), "failed to read vendor response").
			WithCause(err).
			WithSource("threed")
	}

	var envelope struct {
		Response struct {
			JobResult
			Error *apiError `json:"Error"`
		} `json:"Response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, types.NewError(errCodeFor(action),
			fmt.Sprintf("failed to decode vendor response: HTTP %d", resp.StatusCode)).
			WithCause(err).
			WithSource("threed")
	}
	if envelope.Response.Error != nil {
		return nil, types.NewError(errCodeFor(action),
			fmt.Sprintf("vendor error %s: %s", envelope.Response.Error.Code, envelope.Response.Error.Message)).
			WithSource("threed")
	}

	result := envelope.Response.JobResult
	return &result, nil
}

// errCodeFor 提交阶段的失败归为 SUBMIT_ERROR，查询阶段归为内部错误。
func errCodeFor(action string) types.ErrorCode {
	if action == actionSubmit {
		return types.ErrSubmit
	}
	return types.ErrInternalError
}
