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
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const sqliteSweepInterval = time.Minute

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS acr_records (
	sub        TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	acr_values TEXT NOT NULL,
	state      TEXT NOT NULL,
	acr        TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (sub, client_id, acr_values, state)
);
CREATE TABLE IF NOT EXISTS device_code_acr_records (
	device_code TEXT NOT NULL PRIMARY KEY,
	user_code   TEXT NOT NULL,
	acr         TEXT NOT NULL,
	expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS device_code_acr_records_user_code ON device_code_acr_records (user_code);
`

// sqliteManager provides ACR state in a local sqlite database.
type sqliteManager struct {
	db *sql.DB

	now    func() time.Time
	logger logrus.FieldLogger
}

// NewSQLiteManager creates a sqlite backed ACR Manager at the provided
// database path, creating the schema when missing. A cleanup ticker bound
// to the provided context sweeps expired rows periodically.
func NewSQLiteManager(ctx context.Context, logger logrus.FieldLogger, fn string) (Manager, error) {
	db, err := sql.Open("sqlite", fn)
	if err != nil {
		return nil, fmt.Errorf("acr sqlite open error: %v", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("acr sqlite schema error: %v", err)
	}

	m := &sqliteManager{
		db: db,

		now:    time.Now,
		logger: logger,
	}

	go func() {
		ticker := time.NewTicker(sqliteSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.purgeExpired(ctx)
			case <-ctx.Done():
				db.Close()
				return
			}
		}
	}()

	return m, nil
}

func (m *sqliteManager) purgeExpired(ctx context.Context) {
	deadline := m.now().Unix()
	for _, table := range []string{"acr_records", "device_code_acr_records"} {
		_, err := m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), deadline)
		if err != nil {
			m.logger.WithError(err).WithField("table", table).Errorln("acr sqlite sweep failed")
		}
	}
}

// Store implements the Manager interface.
func (m *sqliteManager) Store(ctx context.Context, record *Record) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO acr_records (sub, client_id, acr_values, state, acr, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		record.Sub, record.ClientID, record.AcrValues, record.State, record.Acr, record.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("acr sqlite store error: %v", err)
	}
	return nil
}

// Get implements the Manager interface.
func (m *sqliteManager) Get(ctx context.Context, sub, clientID, acrValues, state string) (*Record, error) {
	record := &Record{
		Sub:       sub,
		ClientID:  clientID,
		AcrValues: acrValues,
		State:     state,
	}
	var expiresAt int64
	err := m.db.QueryRowContext(ctx,
		`SELECT acr, expires_at FROM acr_records WHERE sub = ? AND client_id = ? AND acr_values = ? AND state = ? AND expires_at >= ?`,
		sub, clientID, acrValues, state, m.now().Unix(),
	).Scan(&record.Acr, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acr sqlite get error: %v", err)
	}
	record.ExpiresAt = time.Unix(expiresAt, 0)

	return record, nil
}

// StoreDeviceCode implements the Manager interface.
func (m *sqliteManager) StoreDeviceCode(ctx context.Context, record *DeviceCodeRecord) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO device_code_acr_records (device_code, user_code, acr, expires_at) VALUES (?, ?, ?, ?)`,
		record.DeviceCode, record.UserCode, record.Acr, record.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("acr sqlite store error: %v", err)
	}
	return nil
}

// GetByDeviceCode implements the Manager interface.
func (m *sqliteManager) GetByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCodeRecord, error) {
	return m.getDeviceCode(ctx, "device_code", deviceCode)
}

// GetByUserCode implements the Manager interface.
func (m *sqliteManager) GetByUserCode(ctx context.Context, userCode string) (*DeviceCodeRecord, error) {
	return m.getDeviceCode(ctx, "user_code", userCode)
}

func (m *sqliteManager) getDeviceCode(ctx context.Context, column, key string) (*DeviceCodeRecord, error) {
	record := &DeviceCodeRecord{}
	var expiresAt int64
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT device_code, user_code, acr, expires_at FROM device_code_acr_records WHERE %s = ? AND expires_at >= ?`, column),
		key, m.now().Unix(),
	).Scan(&record.DeviceCode, &record.UserCode, &record.Acr, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acr sqlite get error: %v", err)
	}
	record.ExpiresAt = time.Unix(expiresAt, 0)

	return record, nil
}
