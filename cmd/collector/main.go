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
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridsense/gridsense/pkg/config"
	"github.com/gridsense/gridsense/pkg/db"
	"github.com/gridsense/gridsense/pkg/ingest"
	"github.com/gridsense/gridsense/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg ingest.Config
	if err := config.FromEnv(&cfg, ""); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Collector config validation failed: %v", err)
	}

	loggerConfig := logger.DefaultConfig()

	dbLogger, err := logger.NewComponent(ctx, "collector-db", loggerConfig)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	serviceLogger, err := logger.NewComponent(ctx, "collector", loggerConfig)
	if err != nil {
		log.Fatalf("Failed to initialize service logger: %v", err)
	}

	database, err := db.New(ctx, cfg.DatabaseURL, dbLogger)
	if err != nil {
		log.Fatalf("Failed to initialize database service: %v", err)
	}

	svc, err := ingest.NewService(&cfg, database, serviceLogger)
	if err != nil {
		log.Fatalf("Failed to initialize collector service: %v", err)
	}

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start collector service: %v", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		serviceLogger.Error().Err(err).Msg("shutdown finished with errors")
	}
}
