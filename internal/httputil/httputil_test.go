package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequest(w, "window must be positive")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"window must be positive"}`, w.Body.String())

	w = httptest.NewRecorder()
	NotFound(w, "no such route")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	InternalServerError(w, "boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteJSONOK(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSONOK(w, map[string]int{"records_read": 3})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records_read":3}`, w.Body.String())
}

func TestGetJSON(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"records_read":7}`).
		AddResponse(http.StatusBadRequest, `{"error":"bad center"}`).
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusOK, `not json`)

	var out struct {
		RecordsRead int `json:"records_read"`
	}
	ctx := context.Background()
	require.NoError(t, GetJSON(ctx, m, "http://host/api/stats", &out))
	assert.Equal(t, 7, out.RecordsRead)

	err := GetJSON(ctx, m, "http://host/api/events", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad center")

	err = GetJSON(ctx, m, "http://host/api/stats", &out)
	assert.ErrorContains(t, err, "connection refused")

	err = GetJSON(ctx, m, "http://host/api/stats", &out)
	assert.ErrorContains(t, err, "decode")

	assert.Equal(t, 4, m.RequestCount())
	assert.Equal(t, "/api/events", m.Requests[1].URL.Path)
}
