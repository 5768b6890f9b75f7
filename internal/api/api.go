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

// Package api implements the admin/introspection HTTP surface: cache
// key listing and purge, live config inspection and reload, version,
// and (optionally) pprof/expvar debug routes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/config"
	"github.com/kacheio/fetchgate/internal/fetch"
	"github.com/kacheio/fetchgate/internal/version"
	"github.com/rs/zerolog/log"
)

// API is the admin HTTP surface backed by a Fetch Manager.
type API struct {
	cfg     config.API
	manager *fetch.Manager

	router *mux.Router
	filter *IPFilter
}

// New builds an API bound to manager, registering its routes (and, if
// cfg.Debug is set, pprof/expvar routes) immediately. An invalid ACL
// disables IP filtering rather than failing admin API construction.
func New(cfg config.API, manager *fetch.Manager) *API {
	filter, err := NewIPFilter(cfg.ACL)
	if err != nil {
		log.Error().Err(err).Str("acl", cfg.ACL).Msg("invalid admin API ACL, disabling IP filtering")
		filter = &IPFilter{}
	}

	a := &API{
		cfg:     cfg,
		manager: manager,
		router:  mux.NewRouter(),
		filter:  filter,
	}
	a.registerRoutes()
	if cfg.Debug {
		debug := mux.NewRouter()
		registerDebugRoutes(debug)
		a.router.PathPrefix("/debug/").Handler(a.filter.Wrap(debug.ServeHTTP))
	}
	return a
}

// ServeHTTP makes API an http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) registerRoutes() {
	a.handle(http.MethodGet, "/api/version", version.Handler)
	a.handle(http.MethodGet, "/api/cache/keys", a.cacheKeysHandler)
	a.handle(http.MethodDelete, "/api/cache/keys/purge", a.cachePurgeHandler)
	a.handle(http.MethodGet, "/api/config", a.configHandler)
	a.handle(http.MethodPost, "/api/config/reload", a.configReloadHandler)
}

func (a *API) handle(method, path string, handler http.HandlerFunc) {
	a.router.HandleFunc(path, a.filter.Wrap(handler)).Methods(method)
}

// cacheKeysHandler lists L1 cache keys, optionally filtered by the
// ?prefix= query parameter.
func (a *API) cacheKeysHandler(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	keys := a.manager.CacheKeys(prefix)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(keys); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// cachePurgeHandler evicts a single key, given as ?key=<method>:<url>,
// from both cache tiers.
func (a *API) cachePurgeHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key parameter", http.StatusBadRequest)
		return
	}
	a.manager.PurgeCache(r.Context(), cache.Key(key))
	w.WriteHeader(http.StatusOK)
}

// configHandler renders the currently active Fetch Manager config.
func (a *API) configHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.manager.CurrentConfig()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// configReloadHandler forces a synchronous config reload and returns
// the resulting config.
func (a *API) configReloadHandler(w http.ResponseWriter, r *http.Request) {
	cfg := a.manager.ReloadConfig()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
