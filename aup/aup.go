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

// Package aup implements the acceptable use policy re-acceptance algorithm
// on top of the Perun attribute substrate.
package aup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// DateLayout is the date format of AUP date and signedOn fields.
const DateLayout = "2006-01-02"

// Aup is one versioned acceptable use policy text. SignedOn is set only
// once the user has approved that specific version.
type Aup struct {
	Version  string `json:"version"`
	Date     string `json:"date"`
	Link     string `json:"link"`
	Text     string `json:"text"`
	SignedOn string `json:"signed_on,omitempty"`
}

func (a *Aup) date() (time.Time, error) {
	return time.Parse(DateLayout, a.Date)
}

// Engine computes which policies require re-acceptance and persists
// acceptance back as a user attribute write.
type Engine struct {
	adapter perun.Adapter

	clock  func() time.Time
	logger logrus.FieldLogger
}

// NewEngine creates a new AUP Engine. A nil clock defaults to time.Now.
func NewEngine(c *config.Config, adapter perun.Adapter, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		adapter: adapter,

		clock:  clock,
		logger: c.Logger,
	}
}

// AupsToApprove returns the policies the provided user must (re)approve
// before accessing the provided facility, keyed by policy identifier. Each
// carried Aup is the authoritative latest version, not the user's.
func (e *Engine) AupsToApprove(ctx context.Context, facilityID, userID int64) (map[string]*Aup, error) {
	toApprove := make(map[string]*Aup)

	requiredValue, err := e.adapter.GetFacilityAttributeValue(ctx, facilityID, perun.AttrFacilityRequiredAups)
	if err != nil {
		return nil, err
	}
	requiredKeys := requiredValue.List()
	if len(requiredKeys) == 0 {
		return toApprove, nil
	}

	orgAups, err := e.adapter.GetEntitylessAttribute(ctx, perun.AttrOrgAups)
	if err != nil {
		return nil, err
	}

	voAups, err := e.voAups(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	signedValue, err := e.adapter.GetUserAttributeValue(ctx, userID, perun.AttrUserAups)
	if err != nil {
		return nil, err
	}
	signed := signedValue.Map()

	for _, key := range requiredKeys {
		var available []*Aup
		if raw, ok := orgAups[key]; ok {
			available, err = parseAupList(raw)
		} else if list, ok := voAups[key]; ok {
			available = list
		}
		if err != nil {
			return nil, fmt.Errorf("aup invalid policy list for key %s: %v", key, err)
		}

		latest, err := latestAup(available)
		if err != nil {
			return nil, fmt.Errorf("aup invalid policy list for key %s: %v", key, err)
		}
		if latest == nil {
			e.logger.WithField("key", key).Debugln("aup required key has no policy source, skipping")
			continue
		}

		signedList, err := parseAupList(signed[key])
		if err != nil {
			return nil, fmt.Errorf("aup invalid signed list for key %s: %v", key, err)
		}
		signedLatest, err := latestAup(signedList)
		if err != nil {
			return nil, fmt.Errorf("aup invalid signed list for key %s: %v", key, err)
		}

		if signedLatest == nil || signedLatest.Date != latest.Date {
			toApprove[key] = latest
		}
	}

	return toApprove, nil
}

// ApproveAups stamps each approved policy with today as signedOn and appends
// it to the user's historical list before writing the whole map back as one
// attribute update. Histories are append only, never replaced.
func (e *Engine) ApproveAups(ctx context.Context, userID int64, approved map[string]*Aup) error {
	if len(approved) == 0 {
		return nil
	}

	signedValue, err := e.adapter.GetUserAttributeValue(ctx, userID, perun.AttrUserAups)
	if err != nil {
		return err
	}
	stored := signedValue.Map()

	today := e.clock().Format(DateLayout)
	for key, policy := range approved {
		history, err := parseAupList(stored[key])
		if err != nil {
			return fmt.Errorf("aup invalid signed list for key %s: %v", key, err)
		}

		accepted := *policy
		accepted.SignedOn = today
		history = append(history, &accepted)

		encoded, err := json.Marshal(history)
		if err != nil {
			return err
		}
		stored[key] = string(encoded)
	}

	err = e.adapter.SetUserAttribute(ctx, userID, perun.AttrUserAups, perun.NewMapValue(stored))
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   len(approved),
	}).Debugln("aup acceptance stored")

	return nil
}

// voAups collects the VO level policy lists of all VOs associated with the
// facility, keyed by VO short name.
func (e *Engine) voAups(ctx context.Context, facilityID int64) (map[string][]*Aup, error) {
	vos, err := e.adapter.GetFacilityVos(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	voAups := make(map[string][]*Aup, len(vos))
	for _, vo := range vos {
		values, err := e.adapter.GetVoAttributeValues(ctx, vo.ID, []string{perun.AttrVoAup})
		if err != nil {
			return nil, err
		}
		value := values[perun.AttrVoAup]
		if value.IsNull() || value.String() == "" {
			continue
		}
		list, err := parseAupList(value.String())
		if err != nil {
			return nil, fmt.Errorf("aup invalid policy list for vo %s: %v", vo.ShortName, err)
		}
		voAups[vo.ShortName] = list
	}

	return voAups, nil
}

func parseAupList(raw string) ([]*Aup, error) {
	if raw == "" {
		return nil, nil
	}
	var list []*Aup
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// latestAup returns the latest dated policy of the provided list. Lists are
// ordered by version, later entries win date ties.
func latestAup(list []*Aup) (*Aup, error) {
	var latest *Aup
	var latestDate time.Time
	for _, policy := range list {
		date, err := policy.date()
		if err != nil {
			return nil, fmt.Errorf("policy version %s has invalid date %q", policy.Version, policy.Date)
		}
		if latest == nil || !date.Before(latestDate) {
			latest = policy
			latestDate = date
		}
	}

	return latest, nil
}
