package threed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/meshforge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.Endpoint = server.URL
	if cfg.SecretID == "" {
		cfg.SecretID = "AKIDtest"
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = "test-secret"
	}
	return New(cfg, zap.NewNop())
}

type fakeSleeper struct {
	calls int
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.calls++
	return nil
}

func TestNew_Defaults(t *testing.T) {
	client := New(Config{SecretID: "id", SecretKey: "key"}, nil)

	assert.Equal(t, defaultEndpoint, client.cfg.Endpoint)
	assert.Equal(t, defaultRegion, client.cfg.Region)
	assert.Equal(t, defaultResultFormat, client.cfg.ResultFormat)
	assert.Equal(t, defaultPollInterval, client.cfg.PollInterval)
	assert.Equal(t, defaultPollTimeout, client.cfg.PollTimeout)
	assert.Equal(t, "ai3d.tencentcloudapi.com", client.host)
}

func TestClient_Submit(t *testing.T) {
	client := newTestClient(t, Config{Region: "ap-guangzhou"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, actionSubmit, r.Header.Get("X-TC-Action"))
		assert.Equal(t, apiVersion, r.Header.Get("X-TC-Version"))
		assert.Equal(t, "ap-guangzhou", r.Header.Get("X-TC-Region"))

		ts, err := strconv.ParseInt(r.Header.Get("X-TC-Timestamp"), 10, 64)
		require.NoError(t, err)
		date := time.Unix(ts, 0).UTC().Format("2006-01-02")
		prefix := fmt.Sprintf("TC3-HMAC-SHA256 Credential=AKIDtest/%s/ai3d/tc3_request, SignedHeaders=%s, Signature=",
			date, signedHeaders)
		assert.Regexp(t, "^"+prefix+"[0-9a-f]{64}$", r.Header.Get("Authorization"))

		var params struct {
			ImageBase64  string `json:"ImageBase64"`
			ResultFormat string `json:"ResultFormat"`
			EnablePBR    bool   `json:"EnablePBR"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "aW1hZ2U=", params.ImageBase64)
		assert.Equal(t, "STL", params.ResultFormat)
		assert.True(t, params.EnablePBR)

		w.Write([]byte(`{"Response":{"JobId":"job-123","RequestId":"req-1"}}`))
	})

	jobID, err := client.Submit(context.Background(), "aW1hZ2U=", true)
	require.NoError(t, err)
	assert.Equal(t, "job-123", jobID)
}

func TestClient_Submit_VendorError(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"Error":{"Code":"AuthFailure.SignatureFailure","Message":"signature expired"},"RequestId":"req-2"}}`))
	})

	_, err := client.Submit(context.Background(), "aW1hZ2U=", false)
	require.Error(t, err)
	assert.Equal(t, types.ErrSubmit, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "AuthFailure.SignatureFailure")
	assert.Contains(t, err.Error(), "signature expired")
}

func TestClient_Submit_EmptyJobID(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"RequestId":"req-3"}}`))
	})

	_, err := client.Submit(context.Background(), "aW1hZ2U=", false)
	require.Error(t, err)
	assert.Equal(t, types.ErrSubmit, types.GetErrorCode(err))
}

func TestClient_Query(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, actionQuery, r.Header.Get("X-TC-Action"))

		var params struct {
			JobID string `json:"JobId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "job-123", params.JobID)

		w.Write([]byte(`{"Response":{"JobId":"job-123","Status":"RUN","RequestId":"req-4"}}`))
	})

	result, err := client.Query(context.Background(), "job-123")
	require.NoError(t, err)
	assert.Equal(t, StatusRun, result.Status)
}

func TestClient_Query_VendorError(t *testing.T) {
	client := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"Error":{"Code":"ResourceNotFound","Message":"job does not exist"},"RequestId":"req-5"}}`))
	})

	_, err := client.Query(context.Background(), "job-404")
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "job does not exist")
}

func TestClient_PollUntilTerminal_RunThenDone(t *testing.T) {
	responses := []string{
		`{"Response":{"JobId":"job-1","Status":"WAIT","RequestId":"r1"}}`,
		`{"Response":{"JobId":"job-1","Status":"RUN","RequestId":"r2"}}`,
		`{"Response":{"JobId":"job-1","Status":"DONE","ResultFile3Ds":[{"Type":"STL","Url":"https://files.example.com/out.stl"}],"RequestId":"r3"}}`,
	}
	var queries int
	client := newTestClient(t, Config{PollTimeout: 5 * time.Second}, func(w http.ResponseWriter, r *http.Request) {
		idx := queries
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		queries++
		w.Write([]byte(responses[idx]))
	})

	sleeper := &fakeSleeper{}
	client.sleeper = sleeper

	result, err := client.PollUntilTerminal(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 3, queries, "WAIT 和 RUN 各一次后第三次到达终态")
	assert.Equal(t, 2, sleeper.calls, "非终态之间各休眠一次")
}

func TestClient_PollUntilTerminal_Fail(t *testing.T) {
	client := newTestClient(t, Config{PollTimeout: 5 * time.Second}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"JobId":"job-1","Status":"FAIL","ErrorCode":"GenerateFailed","ErrorMessage":"unsupported image","RequestId":"r1"}}`))
	})
	client.sleeper = &fakeSleeper{}

	_, err := client.PollUntilTerminal(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, types.ErrJobFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "GenerateFailed")
	assert.Contains(t, err.Error(), "unsupported image")
}

func TestClient_PollUntilTerminal_Timeout(t *testing.T) {
	cfg := Config{
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  40 * time.Millisecond,
	}
	var queries atomic.Int32
	client := newTestClient(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		queries.Add(1)
		w.Write([]byte(`{"Response":{"JobId":"job-1","Status":"RUN","RequestId":"r1"}}`))
	})

	start := time.Now()
	_, err := client.PollUntilTerminal(context.Background(), "job-1")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "job-1")
	assert.True(t, types.IsRetryable(err))

	// 超时只能在预算耗尽后判定，期间必须持续轮询而不是立刻放弃
	assert.GreaterOrEqual(t, elapsed, cfg.PollTimeout)
	assert.GreaterOrEqual(t, queries.Load(), int32(2))
}

func TestClient_PollUntilTerminal_ContextCancelled(t *testing.T) {
	client := newTestClient(t, Config{
		PollInterval: 100 * time.Millisecond,
		PollTimeout:  5 * time.Second,
	}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":{"JobId":"job-1","Status":"RUN","RequestId":"r1"}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	_, err := client.PollUntilTerminal(ctx, "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_SelectResultURL(t *testing.T) {
	client := New(Config{SecretID: "id", SecretKey: "key"}, nil)

	tests := []struct {
		name     string
		files    []File3D
		expected string
	}{
		{
			name: "exact format tag",
			files: []File3D{
				{Type: "STL", URL: "https://files.example.com/a.stl"},
				{Type: "OBJ", URL: "https://files.example.com/a.obj"},
			},
			expected: "https://files.example.com/a.stl",
		},
		{
			name:     "lowercase tag matches",
			files:    []File3D{{Type: "stl", URL: "https://files.example.com/b.stl"}},
			expected: "https://files.example.com/b.stl",
		},
		{
			name: "no tag match falls back to first url",
			files: []File3D{
				{Type: "OBJ", URL: ""},
				{Type: "GLB", URL: "https://files.example.com/c.glb"},
			},
			expected: "https://files.example.com/c.glb",
		},
		{
			name: "matched tag without url falls back",
			files: []File3D{
				{Type: "STL", URL: ""},
				{Type: "OBJ", URL: "https://files.example.com/d.obj"},
			},
			expected: "https://files.example.com/d.obj",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := client.SelectResultURL(&JobResult{Status: StatusDone, ResultFile3Ds: tt.files})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, url)
		})
	}
}

func TestClient_SelectResultURL_NotFound(t *testing.T) {
	client := New(Config{SecretID: "id", SecretKey: "key"}, nil)

	_, err := client.SelectResultURL(&JobResult{Status: StatusDone})
	require.Error(t, err)
	assert.Equal(t, types.ErrResultNotFound, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "STL URL not found")

	_, err = client.SelectResultURL(&JobResult{
		Status:        StatusDone,
		ResultFile3Ds: []File3D{{Type: "STL"}, {Type: "OBJ"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrResultNotFound, types.GetErrorCode(err))
}
