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

import "errors"

var (
	ErrConnStringRequired = errors.New("database connection string is required")
	ErrFailedToInsert     = errors.New("failed to insert")
	ErrFailedToQuery      = errors.New("failed to query")
	ErrFailedToScan       = errors.New("failed to scan")
	ErrClientNotFound     = errors.New("client not found")
	ErrClientNil          = errors.New("client is nil")
	ErrReadingNil         = errors.New("reading is nil")
)
