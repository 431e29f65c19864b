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
)

// Schema statements are idempotent; EnsureSchema runs at every service start.
// The device_readings column names and timestamptz type are a contract with
// the data provider and must not change without coordinating both sides.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		client_id   TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL UNIQUE,
		api_key     TEXT NOT NULL,
		key_hash    TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		description TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clients_expires_at ON clients (expires_at)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id  TEXT PRIMARY KEY,
		api_key    TEXT NOT NULL,
		name       TEXT,
		client_id  TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_api_key ON devices (api_key)`,
	`CREATE TABLE IF NOT EXISTS device_readings (
		device_id TEXT NOT NULL,
		data      JSONB NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_readings_device_ts
		ON device_readings (device_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_device_readings_ts ON device_readings (timestamp DESC)`,
}

// EnsureSchema creates tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}

	return nil
}
