// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/config"
	"github.com/kacheio/fetchgate/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, cfg config.API) *API {
	t.Helper()
	manager := fetch.NewManager(fetch.ManagerOptions{Transport: http.DefaultTransport})
	t.Cleanup(manager.Close)
	return New(cfg, manager)
}

func TestAPIVersionRoute(t *testing.T) {
	api := newTestAPI(t, config.API{})

	rr := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/api/version", nil)
	require.NoError(t, err)

	api.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)
}

func TestAPICacheKeysAndPurge(t *testing.T) {
	api := newTestAPI(t, config.API{})
	key := cache.NewKey(http.MethodGet, "https://example.com/a")

	rr := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/api/cache/keys", nil)
	require.NoError(t, err)
	api.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodDelete, "/api/cache/keys/purge?key="+key.String(), nil)
	require.NoError(t, err)
	api.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodDelete, "/api/cache/keys/purge", nil)
	require.NoError(t, err)
	api.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Result().StatusCode)
}

func TestAPIConfigRoutes(t *testing.T) {
	api := newTestAPI(t, config.API{})

	rr := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/api/config", nil)
	require.NoError(t, err)
	api.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodPost, "/api/config/reload", nil)
	require.NoError(t, err)
	api.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)
}

func TestAPIAccessControl(t *testing.T) {
	api := newTestAPI(t, config.API{ACL: "192.0.2.1"})

	cases := []struct {
		name   string
		addr   string
		status int
	}{
		{"access granted", "192.0.2.1:6087", http.StatusOK},
		{"access denied", "192.0.20.1:6087", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req, err := http.NewRequest(http.MethodGet, "/api/version", nil)
			require.NoError(t, err)
			req.RemoteAddr = c.addr

			api.ServeHTTP(rr, req)

			assert.Equal(t, c.status, rr.Result().StatusCode)
		})
	}
}
