package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name string  `json:"name" validate:"required"`
	Rows int     `json:"rows" default:"3" validate:"gte=1"`
	Note *string `json:"note" validate:"required"`
}

func newContext(body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequest(t *testing.T) {
	c, _ := newContext(`{"name":"x","note":""}`)
	req := &sampleRequest{}
	require.Nil(t, ReadAndValidateRequest(c, req))
	assert.Equal(t, 3, req.Rows)
	require.NotNil(t, req.Note)
	assert.Equal(t, "", *req.Note)
}

func TestReadAndValidateRequestReportsJSONFieldNames(t *testing.T) {
	c, _ := newContext(`{"rows":-1}`)
	errs := ReadAndValidateRequest(c, &sampleRequest{})
	require.NotEmpty(t, errs)

	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "ERR_REQUIRED", fields["name"])
	assert.Equal(t, "ERR_REQUIRED", fields["note"])
	assert.Equal(t, "ERR_GTE", fields["rows"])
}

func TestReadAndValidateRequestMalformed(t *testing.T) {
	c, _ := newContext(`{"name":`)
	errs := ReadAndValidateRequest(c, &sampleRequest{})
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_MALFORMED", errs[0].Code)
}

func TestAppErrorResponseUsesStatus(t *testing.T) {
	c, rec := newContext("")
	require.NoError(t, AppErrorResponse(c, BadRequestError("nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Status)

	c, rec = newContext("")
	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppErrorWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := InternalError("write failed").WithError(base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "write failed: disk full", err.Error())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"r2":0.12}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second), WithRetry(2, time.Millisecond))
	var out struct {
		R2 float64 `json:"r2"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]int{"max_depth": 4},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.12, out.R2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad params", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(WithRetry(3, time.Millisecond))
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
