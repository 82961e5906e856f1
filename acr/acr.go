/*
 * Copyright 2025 CESNET and its licensors
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
 *
 */

// Package acr persists authentication context class references so the host
// OIDC engine can replay which authentication strength a login used.
package acr

import (
	"context"
	"time"
)

// Record stores the ACR value of one authorize request, keyed by subject,
// client, requested acr values and state.
type Record struct {
	Sub       string
	ClientID  string
	AcrValues string
	State     string
	Acr       string

	ExpiresAt time.Time
}

// DeviceCodeRecord stores the ACR value of one device flow, keyed by device
// code and user code.
type DeviceCodeRecord struct {
	DeviceCode string
	UserCode   string
	Acr        string

	ExpiresAt time.Time
}

// Manager persists and retrieves ACR records. Expired records are swept by
// a periodic job, lookups never return expired records.
type Manager interface {
	Store(ctx context.Context, record *Record) error
	Get(ctx context.Context, sub, clientID, acrValues, state string) (*Record, error)

	StoreDeviceCode(ctx context.Context, record *DeviceCodeRecord) error
	GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error)
	GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error)
}
