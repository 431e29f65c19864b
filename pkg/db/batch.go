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

	"github.com/jackc/pgx/v5"
)

// sendBatchExecAll sends a pgx batch and drains every result, so a failure in
// any queued command surfaces instead of being silently dropped on Close.
func (db *DB) sendBatchExecAll(ctx context.Context, batch *pgx.Batch, operation string) (err error) {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	br := db.pool.SendBatch(ctx, batch)
	defer func() {
		if closeErr := br.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%s batch close: %w", operation, closeErr)
		}
	}()

	for i := 0; i < batch.Len(); i++ {
		if _, err = br.Exec(); err != nil {
			return fmt.Errorf("%s batch exec (command %d): %w", operation, i, err)
		}
	}

	return nil
}
