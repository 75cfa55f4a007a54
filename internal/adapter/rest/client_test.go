package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/errs"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, errs.KindRateLimited, classify(http.StatusTooManyRequests))
	assert.Equal(t, errs.KindAuthFailure, classify(http.StatusUnauthorized))
	assert.Equal(t, errs.KindAuthFailure, classify(http.StatusForbidden))
	assert.Equal(t, errs.KindTransientTransport, classify(http.StatusBadGateway))
	assert.Equal(t, errs.KindExchangeRejectTerminal, classify(http.StatusBadRequest))
	assert.Equal(t, errs.KindExchangeRejectTechnical, classify(http.StatusConflict))
}

func TestDoTagsRateLimitedOnTooManyRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"msg":"too many requests"}`))
	}))
	defer srv.Close()

	c := New("test", srv.URL, Credentials{}, zerolog.Nop())
	c.hc.RetryMax = 0 // do not actually retry in the test

	err := c.do(context.Background(), "Test", http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRateLimited))
}

func TestDoDecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"free_margin_usd":"123.45","used_margin_usd":"1","equity_usd":"124.45"}`))
	}))
	defer srv.Close()

	c := New("test", srv.URL, Credentials{}, zerolog.Nop())
	mi, err := c.GetMarginInfo(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "123.45", mi.FreeMarginUSD.String())
}

func TestDoTagsAuthFailureOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("test", srv.URL, Credentials{APIKey: "k", APISecret: "s"}, zerolog.Nop())
	err := c.do(context.Background(), "Test", http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAuthFailure))
}

func TestBackoffHonorsRetryAfterHeader(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"3"}}}
	d := backoff(100*time.Millisecond, 10*time.Second, 0, resp)
	assert.Equal(t, 3*time.Second, d)
}

func TestBackoffFallsBackWithoutRetryAfter(t *testing.T) {
	d := backoff(100*time.Millisecond, 10*time.Second, 0, nil)
	assert.True(t, d >= 100*time.Millisecond)
}
