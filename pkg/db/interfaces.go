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
	"time"

	"github.com/gridsense/gridsense/pkg/models"
)

// Service is the storage interface injected into the collector and the HTTP
// services; it exists so they can take test doubles.
type Service interface {
	ReadingWriter

	// ReadingsPage returns one page of readings for a device, newest first,
	// along with the total count matching the time range.
	ReadingsPage(ctx context.Context, deviceID string, start, end *time.Time, page, pageSize int) ([]*models.Reading, int, error)

	// DeviceCredentialsMatch reports whether an authorized device exists with
	// exactly this (device_id, api_key) pair.
	DeviceCredentialsMatch(ctx context.Context, deviceID, apiKey string) (bool, error)

	// DeviceIDsForKey lists the devices owned by the given plaintext API key.
	DeviceIDsForKey(ctx context.Context, apiKey string) ([]string, error)

	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	ListClients(ctx context.Context) ([]*models.Client, error)
	DeleteClient(ctx context.Context, clientID string) error

	// ActiveClientByKey returns the client owning the API key with the given
	// digest if it exists and has not expired.
	ActiveClientByKey(ctx context.Context, keyHash string) (*models.Client, error)

	EnsureSchema(ctx context.Context) error
	Close() error
}

// ReadingWriter is the narrow interface the flush scheduler needs.
type ReadingWriter interface {
	// InsertReadings writes a batch of readings as one multi-record insert.
	InsertReadings(ctx context.Context, readings []*models.Reading) error
}
