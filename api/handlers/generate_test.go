package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BaSui01/meshforge/generation"
	"github.com/BaSui01/meshforge/records"
	"github.com/BaSui01/meshforge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockGenerator 模拟生成流水线
type mockGenerator struct {
	generateFunc func(ctx context.Context, req generation.Request) (*generation.Result, error)
	requests     []generation.Request
}

func (m *mockGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	m.requests = append(m.requests, req)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return &generation.Result{}, nil
}

// postForm 构造 application/x-www-form-urlencoded 的 POST 请求
func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

// =============================================================================
// 🧪 GenerateHandler 测试
// =============================================================================

func TestGenerateHandler_HandleGenerate(t *testing.T) {
	logger := zap.NewNop()

	result := &generation.Result{
		ModelURL:    "https://store.example.com/sign/u1/3d-models/mem-1_20250314_150926.stl",
		StoragePath: "u1/3d-models/mem-1_20250314_150926.stl",
		Filename:    "mem-1_20250314_150926.stl",
		UpdatedMemory: []records.Memory{
			{ID: "mem-1", Model3DURL: "u1/3d-models/mem-1_20250314_150926.stl"},
		},
	}

	mock := &mockGenerator{
		generateFunc: func(ctx context.Context, req generation.Request) (*generation.Result, error) {
			return result, nil
		},
	}
	handler := NewGenerateHandler(mock, logger)

	form := url.Values{}
	form.Set("user_id", "u1")
	form.Set("memory_id", "mem-1")
	form.Set("enable_pbr", "true")

	w := httptest.NewRecorder()
	handler.HandleGenerate(w, postForm("/generate-3d", form))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.NewDecoder(w.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "3D STL generated successfully", body["message"])
	assert.Equal(t, result.ModelURL, body["stl_url"])
	assert.Equal(t, result.StoragePath, body["stl_storage_path"])
	assert.Equal(t, result.Filename, body["filename"])

	updated, ok := body["updated_memory"].([]any)
	require.True(t, ok)
	require.Len(t, updated, 1)
	row, ok := updated[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mem-1", row["id"])

	// 表单参数按原样传入流水线
	require.Len(t, mock.requests, 1)
	assert.Equal(t, "u1", mock.requests[0].UserID)
	assert.Equal(t, "mem-1", mock.requests[0].MemoryID)
	assert.True(t, mock.requests[0].EnablePBR)
}

func TestGenerateHandler_HandleGenerate_SurvivesClientDisconnect(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pipelineCtx context.Context
	mock := &mockGenerator{
		generateFunc: func(ctx context.Context, req generation.Request) (*generation.Result, error) {
			pipelineCtx = ctx
			// 厂商轮询进行中客户端断开连接
			cancel()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &generation.Result{
				ModelURL:    "https://store.example.com/sign/u1/3d-models/a.stl",
				StoragePath: "u1/3d-models/a.stl",
				Filename:    "a.stl",
			}, nil
		},
	}
	handler := NewGenerateHandler(mock, zap.NewNop())

	form := url.Values{}
	form.Set("memory_id", "mem-1")

	w := httptest.NewRecorder()
	handler.HandleGenerate(w, postForm("/generate-3d", form).WithContext(reqCtx))

	require.Error(t, reqCtx.Err(), "前置条件：请求上下文已被取消")
	require.NotNil(t, pipelineCtx)
	assert.NoError(t, pipelineCtx.Err(), "流水线上下文不随请求取消，记录状态必须推进到终态")

	// 断开后结果照常写出
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
}

func TestGenerateHandler_HandleGenerate_MethodNotAllowed(t *testing.T) {
	logger := zap.NewNop()
	mock := &mockGenerator{}
	handler := NewGenerateHandler(mock, logger)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/generate-3d", nil)

	handler.HandleGenerate(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Empty(t, mock.requests)
}

func TestGenerateHandler_HandleGenerate_ValidationError(t *testing.T) {
	logger := zap.NewNop()
	mock := &mockGenerator{
		generateFunc: func(ctx context.Context, req generation.Request) (*generation.Result, error) {
			return nil, types.NewError(types.ErrValidation, "memory_id is required")
		},
	}
	handler := NewGenerateHandler(mock, logger)

	w := httptest.NewRecorder()
	handler.HandleGenerate(w, postForm("/generate-3d", url.Values{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
	assert.Equal(t, "memory_id is required", resp.Error.Message)
}

func TestGenerateHandler_HandleGenerate_RecordNotFound(t *testing.T) {
	logger := zap.NewNop()
	mock := &mockGenerator{
		generateFunc: func(ctx context.Context, req generation.Request) (*generation.Result, error) {
			return nil, types.NewError(types.ErrNotFound, "memory not found: mem-404")
		},
	}
	handler := NewGenerateHandler(mock, logger)

	form := url.Values{}
	form.Set("memory_id", "mem-404")

	w := httptest.NewRecorder()
	handler.HandleGenerate(w, postForm("/generate-3d", form))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestGenerateHandler_HandleGenerate_PipelineFailure(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name string
		err  error
	}{
		{
			name: "vendor job failed",
			err:  types.NewError(types.ErrJobFailed, "job FAIL: invalid image"),
		},
		{
			name: "untyped error",
			err:  errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockGenerator{
				generateFunc: func(ctx context.Context, req generation.Request) (*generation.Result, error) {
					return nil, tt.err
				},
			}
			handler := NewGenerateHandler(mock, logger)

			form := url.Values{}
			form.Set("memory_id", "mem-1")

			w := httptest.NewRecorder()
			handler.HandleGenerate(w, postForm("/generate-3d", form))

			assert.Equal(t, http.StatusInternalServerError, w.Code)

			var body map[string]any
			err := json.NewDecoder(w.Body).Decode(&body)
			require.NoError(t, err)

			// 历史错误体：status/message 之外的字段显式输出 null
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, tt.err.Error(), body["message"])

			for _, key := range []string{"stl_url", "stl_storage_path", "filename", "updated_memory"} {
				value, present := body[key]
				assert.True(t, present, "字段 %s 必须出现在错误体中", key)
				assert.Nil(t, value, "字段 %s 必须为 null", key)
			}
		})
	}
}

func TestParseFormBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"true", true},
		{"True", true},
		{"1", true},
		{"on", true},
		{"ON", true},
		{"yes", true},
		{"y", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"no", false},
		{"n", false},
		{" true ", true},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFormBool(tt.value))
		})
	}
}
