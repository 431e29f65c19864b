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

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridsense/gridsense/pkg/logger"
)

const (
	defaultMaxConns          = int32(10)
	defaultHealthCheckPeriod = time.Minute
)

// NewPool dials Postgres with the given connection string and returns a pgx
// pool shared by every storage operation.
func NewPool(ctx context.Context, connString string, log logger.Logger) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, ErrConnStringRequired
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse connection string: %w", err)
	}

	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = defaultMaxConns
	}

	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: failed to initialize pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping failed: %w", err)
	}

	if log != nil {
		log.Info().
			Str("host", poolConfig.ConnConfig.Host).
			Str("database", poolConfig.ConnConfig.Database).
			Int32("max_conns", poolConfig.MaxConns).
			Msg("connected to Postgres")
	}

	return pool, nil
}
