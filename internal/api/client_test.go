package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/ratelimit"
)

const testBase = "https://api.source.test"

// setupClient returns a client whose transport is an httpmock mock with the
// auth endpoint already registered.
func setupClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testBase+"/auth/vendor",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"token": "tok-1", "expiresIn": 3600}))

	c := New(Config{
		Instance:         Instance{Name: "source", BaseURL: testBase + "/", ClientID: "cid", Secret: "sec"},
		RateLimitBackoff: time.Millisecond,
		HTTPClient:       &http.Client{Transport: mt},
	}, ratelimit.New(0), logging.Discard())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, mt
}

func TestAuthenticateAndBearer(t *testing.T) {
	c, mt := setupClient(t)

	var gotAuth, gotTenant string
	mt.RegisterResponder(http.MethodGet, testBase+"/tenants/resources/tenants/v2",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			gotTenant = req.Header.Get("frontegg-tenant-id")
			return httpmock.NewStringResponse(http.StatusOK, `{"items":[]}`), nil
		})

	resp, err := c.Get(context.Background(), "/tenants/resources/tenants/v2", WithTenant("t-1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "t-1", gotTenant)

	var body struct {
		Items []any `json:"items"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Empty(t, body.Items)
}

func TestAuthenticateFailure(t *testing.T) {
	c, mt := setupClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/auth/vendor",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"errors":["bad secret"]}`))

	err := c.Authenticate(context.Background())
	require.Error(t, err)

	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "source", ae.Instance)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.True(t, IsAuth(err))
}

func TestTokenRefreshBeforeExpiry(t *testing.T) {
	c, mt := setupClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/vendors", httpmock.NewStringResponder(http.StatusOK, `{}`))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Authenticate(context.Background()))
	_, err := c.Get(context.Background(), "/vendors")
	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetCallCountInfo()["POST "+testBase+"/auth/vendor"])

	// inside the 60s leeway window
	now = now.Add(3600*time.Second - 30*time.Second)
	_, err = c.Get(context.Background(), "/vendors")
	require.NoError(t, err)
	assert.Equal(t, 2, mt.GetCallCountInfo()["POST "+testBase+"/auth/vendor"])
}

func TestRateLimitRetriedOnce(t *testing.T) {
	c, mt := setupClient(t)

	calls := 0
	mt.RegisterResponder(http.MethodPost, testBase+"/identity/resources/roles/v1",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusTooManyRequests, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusCreated, `[{"id":"r-1"}]`), nil
		})

	var slept time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error { slept = d; return nil }

	resp, err := c.Post(context.Background(), "/identity/resources/roles/v1", []map[string]string{{"key": "admin"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, 2, calls)
	assert.Equal(t, time.Millisecond, slept)
}

func TestRateLimitSecond429(t *testing.T) {
	c, mt := setupClient(t)

	calls := 0
	mt.RegisterResponder(http.MethodPost, testBase+"/identity/resources/roles/v1",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down"), nil
		})

	_, err := c.Post(context.Background(), "/identity/resources/roles/v1", []any{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(err))
	assert.False(t, IsAuth(err))
}

func TestNon2xxIsHTTPError(t *testing.T) {
	c, mt := setupClient(t)
	mt.RegisterResponder(http.MethodDelete, testBase+"/applications/resources/applications/v1/a-1",
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	_, err := c.Delete(context.Background(), "/applications/resources/applications/v1/a-1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestScopedHeaders(t *testing.T) {
	c, mt := setupClient(t)

	var env, vendor string
	mt.RegisterResponder(http.MethodGet, testBase+"/prehooks/resources/configurations/v1",
		func(req *http.Request) (*http.Response, error) {
			env = req.Header.Get("frontegg-environment-id")
			vendor = req.Header.Get("frontegg-vendor-id")
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	_, err := c.Get(context.Background(), "/prehooks/resources/configurations/v1", c.WithEnvironment(), c.WithVendor())
	require.NoError(t, err)
	assert.Equal(t, "cid", env)
	assert.Equal(t, "cid", vendor)
}

func TestUpload(t *testing.T) {
	c, mt := setupClient(t)

	parts := map[string]string{}
	mt.RegisterResponder(http.MethodPost, testBase+"/identity/resources/migrations/v1/local/bulk/csv",
		func(req *http.Request) (*http.Response, error) {
			mr, err := req.MultipartReader()
			if err != nil {
				return nil, err
			}
			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, err
				}
				data, _ := io.ReadAll(p)
				parts[p.FormName()] = string(data)
			}
			return httpmock.NewStringResponse(http.StatusAccepted, `{}`), nil
		})

	_, err := c.Upload(context.Background(), "/identity/resources/migrations/v1/local/bulk/csv",
		FormFile{Field: "csv", FileName: "final_data.csv", Content: []byte("email\na@example.com\n")},
		[]FormField{{Name: "hashingConfig", Value: `{"passwordHashType":"bcrypt"}`, ContentType: "application/json"}},
		c.WithEnvironment())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(parts["csv"], "email"))
	assert.Equal(t, `{"passwordHashType":"bcrypt"}`, parts["hashingConfig"])
}
