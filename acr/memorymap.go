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

package acr

import (
	"context"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

const memorySweepInterval = 30 * time.Second

// memoryMapManager provides ACR state in memory. Its methods are safe to
// call from multiple Go routines.
type memoryMapManager struct {
	records     cmap.ConcurrentMap
	deviceCodes cmap.ConcurrentMap
	userCodes   cmap.ConcurrentMap

	now func() time.Time
}

// NewMemoryMapManager creates a new in-memory ACR Manager. A cleanup ticker
// bound to the provided context sweeps expired records periodically. A nil
// now function defaults to time.Now.
func NewMemoryMapManager(ctx context.Context, now func() time.Time) Manager {
	if now == nil {
		now = time.Now
	}
	m := &memoryMapManager{
		records:     cmap.New(),
		deviceCodes: cmap.New(),
		userCodes:   cmap.New(),

		now: now,
	}

	go func() {
		ticker := time.NewTicker(memorySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.purgeExpired()
			case <-ctx.Done():
				return
			}
		}
	}()

	return m
}

func recordKey(sub, clientID, acrValues, state string) string {
	return strings.Join([]string{sub, clientID, acrValues, state}, "\x00")
}

func (m *memoryMapManager) purgeExpired() {
	deadline := m.now()
	for _, table := range []cmap.ConcurrentMap{m.records, m.deviceCodes, m.userCodes} {
		var expired []string
		for entry := range table.IterBuffered() {
			switch record := entry.Val.(type) {
			case *Record:
				if record.ExpiresAt.Before(deadline) {
					expired = append(expired, entry.Key)
				}
			case *DeviceCodeRecord:
				if record.ExpiresAt.Before(deadline) {
					expired = append(expired, entry.Key)
				}
			}
		}
		for _, key := range expired {
			table.Remove(key)
		}
	}
}

// Store implements the Manager interface.
func (m *memoryMapManager) Store(ctx context.Context, record *Record) error {
	m.records.Set(recordKey(record.Sub, record.ClientID, record.AcrValues, record.State), record)
	return nil
}

// Get implements the Manager interface.
func (m *memoryMapManager) Get(ctx context.Context, sub, clientID, acrValues, state string) (*Record, error) {
	stored, ok := m.records.Get(recordKey(sub, clientID, acrValues, state))
	if !ok {
		return nil, nil
	}
	record := stored.(*Record)
	if record.ExpiresAt.Before(m.now()) {
		return nil, nil
	}

	return record, nil
}

// StoreDeviceCode implements the Manager interface.
func (m *memoryMapManager) StoreDeviceCode(ctx context.Context, record *DeviceCodeRecord) error {
	m.deviceCodes.Set(record.DeviceCode, record)
	if record.UserCode != "" {
		m.userCodes.Set(record.UserCode, record)
	}
	return nil
}

// GetByDeviceCode implements the Manager interface.
func (m *memoryMapManager) GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	return m.getDeviceCode(m.deviceCodes, deviceCode)
}

// GetByUserCode implements the Manager interface.
func (m *memoryMapManager) GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	return m.getDeviceCode(m.userCodes, userCode)
}

func (m *memoryMapManager) getDeviceCode(table cmap.ConcurrentMap, key string) (*DeviceCodeRecord, error) {
	stored, ok := table.Get(key)
	if !ok {
		return nil, nil
	}
	record := stored.(*DeviceCodeRecord)
	if record.ExpiresAt.Before(m.now()) {
		return nil, nil
	}

	return record, nil
}
