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

// Package app wires the Fetch Manager, its admin API, and the
// process's tracing/config lifecycle into a single runnable unit.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacheio/fetchgate/internal/api"
	"github.com/kacheio/fetchgate/internal/config"
	"github.com/kacheio/fetchgate/internal/fetch"
	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/kacheio/fetchgate/internal/telemetry"
	"github.com/kacheio/fetchgate/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// App is the root data structure wiring a Fetch Manager to its admin
// API and process lifecycle.
type App struct {
	Config *config.Configuration
	loader *config.Loader

	Registerer prometheus.Registerer

	Manager  *fetch.Manager
	API      *api.API
	listener *api.Listener

	tracer         trace.Tracer
	tracerShutdown func(context.Context) error

	stopCh chan bool
}

// New builds an App from loader's current config, initializing every
// module (tracing, remote cache client, Fetch Manager, admin API).
func New(loader *config.Loader, registerer prometheus.Registerer) (*App, error) {
	a := &App{
		loader:     loader,
		Config:     loader.Config(),
		Registerer: registerer,
		stopCh:     make(chan bool, 1),
	}

	if err := a.setupModules(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) setupModules() error {
	type initFn func() error
	modules := [...]struct {
		name string
		init initFn
	}{
		{"Tracing", a.initTracing},
		{"Manager", a.initManager},
		{"API", a.initAPI},
	}

	for _, m := range modules {
		log.Debug().Msgf("initializing %s", m.name)
		if err := m.init(); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}

	return nil
}

// initTracing installs the global TracerProvider if tracing is
// enabled in config; otherwise the Fetch Manager runs with a nil
// tracer.
func (a *App) initTracing() error {
	t := a.Config.Tracing
	if t == nil || !t.Enabled {
		return nil
	}
	shutdown, err := telemetry.Setup(context.Background(), t.Endpoint, t.SampleRate)
	if err != nil {
		return err
	}
	a.tracerShutdown = shutdown
	a.tracer = telemetry.Tracer("fetchgate")
	return nil
}

// initManager builds the Fetch Manager, wiring an L2 remote cache
// client when a provider backend is configured.
func (a *App) initManager() error {
	var remoteCache provider.RemoteCacheClient
	if a.Config.Provider != nil {
		client, err := provider.NewRemoteCacheClient("fetchgate", *a.Config.Provider)
		if err != nil {
			return err
		}
		remoteCache = client
	}

	fetchCfg := a.Config.Fetch
	opts := fetch.ManagerOptions{
		FlagSource:        config.NewYAMLFileFlagSource(a.loader),
		RemoteCacheClient: remoteCache,
		Registerer:        a.Registerer,
		Tracer:            a.tracer,
	}
	if fetchCfg != nil {
		opts.L1Capacity = fetchCfg.L1Capacity
		opts.RefreshInterval = fetchCfg.FlagRefreshInterval
		opts.DNSRefreshInterval = fetchCfg.DNSRefreshInterval
	}

	a.Manager = fetch.Configure(opts)
	return nil
}

// initAPI builds the admin API and binds its listener.
func (a *App) initAPI() error {
	cfg := config.API{}
	if a.Config.API != nil {
		cfg = *a.Config.API
	}

	a.API = api.New(cfg, a.Manager)

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := api.NewListener(addr, a.API)
	if err != nil {
		return err
	}
	a.listener = ln
	return nil
}

// reloadConfig reloads the backing file and re-applies Fetch Manager
// tunables, triggered on SIGHUP.
func (a *App) reloadConfig(ctx context.Context) error {
	reloaded, err := a.loader.Load(ctx)
	if err != nil {
		return err
	}
	if !reloaded {
		log.Info().Msg("config not reloaded, no changes detected")
		return nil
	}
	a.Config = a.loader.Config()
	a.Manager.ReloadConfig()
	log.Info().Msg("config reloaded")
	return nil
}

// Run starts the admin API and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	if a.loader.AutoReload() {
		if err := a.loader.Watch(context.Background()); err != nil {
			return err
		}
		defer a.loader.Close()
		go func() {
			for changed := range a.loader.Events {
				if !changed {
					continue
				}
				log.Info().Msg("config file changed, reloading")
				a.Config = a.loader.Config()
				a.Manager.ReloadConfig()
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case s := <-signals:
				if s == syscall.SIGHUP {
					log.Info().Msg("received SIGHUP, reloading config")
					if err := a.reloadConfig(context.Background()); err != nil {
						log.Error().Err(err).Msg("error reloading config")
					}
				}
			case <-stop:
				return
			}
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.listener.Start(ctx)

	log.Info().Str("version", version.Info()).Msg("fetchgate started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.listener.Shutdown(shutdownCtx)
	a.Manager.Close()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}
	close(a.stopCh)
}

// Await blocks until Run has completed its shutdown sequence.
func (a *App) Await() {
	<-a.stopCh
}
