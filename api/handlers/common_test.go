package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/meshforge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON_SetsJSONHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteJSON_UnmarshalableFallsBackTo500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, make(chan int)) // 无法序列化

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false}`, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_StatusByCode(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrValidation, http.StatusBadRequest},
		{types.ErrMissingField, http.StatusBadRequest},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrSubmit, http.StatusBadGateway},
		{types.ErrJobFailed, http.StatusBadGateway},
		{types.ErrDownload, http.StatusBadGateway},
		{types.ErrResultNotFound, http.StatusInternalServerError},
		{types.ErrUpload, http.StatusInternalServerError},
		{types.ErrSignedURL, http.StatusInternalServerError},
		{types.ErrConfig, http.StatusInternalServerError},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, types.NewError(tt.code, "boom"), zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "boom", resp.Error.Message)
		})
	}
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrValidation, "semantically broken").
		WithHTTPStatus(http.StatusUnprocessableEntity)

	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "显式状态码优先于错误码映射")
}

func TestWriteError_CarriesRetryableFlag(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, types.NewError(types.ErrTimeout, "vendor job timed out").WithRetryable(true), nil)

	resp := decodeEnvelope(t, w)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", zap.NewNop())

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrValidation), resp.Error.Code)
	assert.Equal(t, "method not allowed", resp.Error.Message)
}

func TestResponseWriter_CapturesFirstStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode, "未写入前预置 200")

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode, "只记录第一次写入的状态码")
}

func TestResponseWriter_ImplicitOKOnWrite(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	n, err := rw.Write([]byte("test"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	// body 已经写出，迟到的状态码不再被采纳
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
