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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gridsense/gridsense/pkg/models"
)

const insertReadingSQL = `INSERT INTO device_readings (device_id, data, timestamp) VALUES ($1, $2, $3)`

// InsertReadings writes a drained batch as one multi-record insert. The batch
// is all-or-nothing from the caller's point of view: any command error is
// returned and the flush scheduler decides what to do with the batch.
func (db *DB) InsertReadings(ctx context.Context, readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, reading := range readings {
		args, err := buildReadingArgs(reading)
		if err != nil {
			return err
		}

		batch.Queue(insertReadingSQL, args...)
	}

	if err := db.sendBatchExecAll(ctx, batch, "insert readings"); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func buildReadingArgs(reading *models.Reading) ([]interface{}, error) {
	if reading == nil {
		return nil, ErrReadingNil
	}

	payload, err := json.Marshal(reading.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal reading data: %w", err)
	}

	return []interface{}{reading.DeviceID, payload, reading.Timestamp}, nil
}

// ReadingsPage returns one page of readings for a device, newest first, plus
// the total row count for the query.
func (db *DB) ReadingsPage(
	ctx context.Context, deviceID string, start, end *time.Time, page, pageSize int,
) ([]*models.Reading, int, error) {
	where := `WHERE device_id = $1`
	args := []interface{}{deviceID}

	if start != nil {
		args = append(args, *start)
		where += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}

	if end != nil {
		args = append(args, *end)
		where += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}

	var total int

	countSQL := `SELECT count(*) FROM device_readings ` + where
	if err := db.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count readings: %w", ErrFailedToQuery, err)
	}

	offset := (page - 1) * pageSize
	args = append(args, pageSize, offset)
	querySQL := fmt.Sprintf(
		`SELECT device_id, data, timestamp FROM device_readings %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := db.pool.Query(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: readings page: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	readings := make([]*models.Reading, 0, pageSize)

	for rows.Next() {
		var (
			reading models.Reading
			payload []byte
		)

		if err := rows.Scan(&reading.DeviceID, &payload, &reading.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("%w: reading row: %w", ErrFailedToScan, err)
		}

		if err := json.Unmarshal(payload, &reading.Data); err != nil {
			return nil, 0, fmt.Errorf("%w: reading data: %w", ErrFailedToScan, err)
		}

		readings = append(readings, &reading)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: reading rows: %w", ErrFailedToQuery, err)
	}

	return readings, total, nil
}
