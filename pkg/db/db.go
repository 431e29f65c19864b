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

// Package db implements durable storage for readings, devices, and clients
// on Postgres via pgx.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridsense/gridsense/pkg/logger"
)

// DB implements Service on a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects to Postgres using the given connection string and ensures the
// schema exists.
func New(ctx context.Context, connString string, log logger.Logger) (*DB, error) {
	pool, err := NewPool(ctx, connString, log)
	if err != nil {
		return nil, err
	}

	database := &DB{pool: pool, logger: log}

	if err := database.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return database, nil
}

func (db *DB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}

	return nil
}

var _ Service = (*DB)(nil)
