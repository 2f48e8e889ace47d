package responseformat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestWriteResponseJSON(t *testing.T) {
	f := NewFormatter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)

	require.NoError(t, f.WriteResponse(rec, req, payload{Name: "a", Value: 1.5}, map[string]string{"X-Run": "1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "1", rec.Header().Get("X-Run"))

	var got payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, payload{Name: "a", Value: 1.5}, got)
}

func TestWriteResponseMsgPack(t *testing.T) {
	f := NewFormatter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs?format=msgpack", nil)

	require.NoError(t, f.WriteResponse(rec, req, payload{Name: "b", Value: 2}, nil))
	assert.Equal(t, "application/x-msgpack", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "b", got["name"])
}

func TestWriteError(t *testing.T) {
	f := NewFormatter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)

	require.NoError(t, f.WriteError(rec, req, http.StatusBadRequest, errors.New("bad trace")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad trace", body.Error)
	assert.Equal(t, http.StatusBadRequest, body.Status)
}

func TestWants(t *testing.T) {
	assert.Equal(t, "json", Wants(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, "json", Wants(httptest.NewRequest(http.MethodGet, "/?format=xml", nil)))
	assert.Equal(t, "msgpack", Wants(httptest.NewRequest(http.MethodGet, "/?format=msgpack", nil)))
}
