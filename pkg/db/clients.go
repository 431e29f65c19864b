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

	"github.com/gridsense/gridsense/pkg/models"
)

const clientColumns = `client_id, name, email, api_key, created_at, expires_at, COALESCE(description, '')`

// CreateClient stores a client record. The api_key column always holds the
// encrypted token, never the plaintext key; key_hash is the deterministic
// digest used for lookups.
func (db *DB) CreateClient(ctx context.Context, client *models.Client) error {
	if client == nil {
		return ErrClientNil
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO clients (client_id, name, email, api_key, key_hash, created_at, expires_at, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`,
		client.ClientID, client.Name, client.Email, client.APIKey, client.KeyHash,
		client.CreatedAt, client.ExpiresAt, client.Description)
	if err != nil {
		return fmt.Errorf("%w: client: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (db *DB) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, clientID)

	return scanClient(row)
}

func (db *DB) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: list clients: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var clients []*models.Client

	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}

		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: client rows: %w", ErrFailedToQuery, err)
	}

	return clients, nil
}

func (db *DB) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("%w: delete client: %w", ErrFailedToQuery, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}

	return nil
}

// ActiveClientByKey resolves an API key digest to its client, requiring the
// credential to be unexpired.
func (db *DB) ActiveClientByKey(ctx context.Context, keyHash string) (*models.Client, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE key_hash = $1 AND expires_at > now()`, keyHash)

	return scanClient(row)
}

func scanClient(row pgx.Row) (*models.Client, error) {
	var client models.Client

	err := row.Scan(&client.ClientID, &client.Name, &client.Email, &client.APIKey,
		&client.CreatedAt, &client.ExpiresAt, &client.Description)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: client: %w", ErrFailedToScan, err)
	}

	return &client, nil
}
