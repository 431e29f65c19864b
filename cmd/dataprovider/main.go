/*
 * Copyright 2026 GridSense Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridsense/gridsense/pkg/config"
	"github.com/gridsense/gridsense/pkg/dataprovider"
	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/keycrypt"
	"github.com/gridsense/gridsense/pkg/logger"
)

type serverConfig struct {
	ListenAddr   string `json:"listen_addr"`
	DatabaseURL  string `json:"database_url"`
	APIKeySecret string `json:"api_key_secret"`
}

var (
	errMissingDatabaseURL  = errors.New("database_url is required")
	errMissingAPIKeySecret = errors.New("api_key_secret is required")
)

func (c *serverConfig) validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errMissingDatabaseURL)
	}

	if c.APIKeySecret == "" {
		errs = append(errs, errMissingAPIKeySecret)
	}

	return errors.Join(errs...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := serverConfig{ListenAddr: ":8091"}
	if err := config.FromEnv(&cfg, ""); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.validate(); err != nil {
		log.Fatalf("Data provider config validation failed: %v", err)
	}

	serviceLogger, err := logger.NewComponent(ctx, "dataprovider", logger.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	database, err := db.New(ctx, cfg.DatabaseURL, serviceLogger)
	if err != nil {
		log.Fatalf("Failed to initialize database service: %v", err)
	}
	defer func() { _ = database.Close() }()

	cipher, err := keycrypt.New(cfg.APIKeySecret)
	if err != nil {
		log.Fatalf("Failed to initialize key cipher: %v", err)
	}

	srv := dataprovider.NewServer(database, cipher, serviceLogger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		serviceLogger.Info().Str("addr", cfg.ListenAddr).Msg("data provider listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error().Err(err).Msg("shutdown finished with errors")
	}
}
