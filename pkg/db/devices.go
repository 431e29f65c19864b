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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DeviceCredentialsMatch is a point lookup on the (device_id, api_key) pair.
// Unknown device and wrong key are both reported as a plain false.
func (db *DB) DeviceCredentialsMatch(ctx context.Context, deviceID, apiKey string) (bool, error) {
	var one int

	err := db.pool.QueryRow(ctx,
		`SELECT 1 FROM devices WHERE device_id = $1 AND api_key = $2`,
		deviceID, apiKey,
	).Scan(&one)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: device lookup: %w", ErrFailedToQuery, err)
	}

	return true, nil
}

// DeviceIDsForKey lists the device ids owned by the given plaintext API key.
func (db *DB) DeviceIDsForKey(ctx context.Context, apiKey string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT device_id FROM devices WHERE api_key = $1 ORDER BY device_id`, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: devices for key: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: device row: %w", ErrFailedToScan, err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: device rows: %w", ErrFailedToQuery, err)
	}

	return ids, nil
}
