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

package aup

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

var testLogger = &logrus.Logger{
	Out: os.Stderr,
	Formatter: &logrus.TextFormatter{
		DisableColors: true,
	},
	Level: logrus.DebugLevel,
}

// testAdapter implements the perun.Adapter interface backed by in memory
// attribute maps, persisting user attribute writes.
type testAdapter struct {
	facilityAttributes map[string]perun.AttributeValue
	userAttributes     map[string]perun.AttributeValue
	orgAups            map[string]string
	vos                []*perun.Vo
	voAups             map[int64]string
}

func (a *testAdapter) GetPerunUser(ctx context.Context, extSourceName string, extLogin string) (*perun.User, error) {
	return nil, nil
}

func (a *testAdapter) GetFacilityByClientID(ctx context.Context, clientID string) (*perun.Facility, error) {
	return nil, nil
}

func (a *testAdapter) GetUserAttributeValue(ctx context.Context, userID int64, identifier string) (perun.AttributeValue, error) {
	if value, ok := a.userAttributes[identifier]; ok {
		return value, nil
	}
	return perun.NullValue(perun.TypeMapKeyValue), nil
}

func (a *testAdapter) GetUserAttributeValues(ctx context.Context, userID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return nil, nil
}

func (a *testAdapter) GetFacilityAttributeValue(ctx context.Context, facilityID int64, identifier string) (perun.AttributeValue, error) {
	if value, ok := a.facilityAttributes[identifier]; ok {
		return value, nil
	}
	return perun.NullValue(perun.TypeArray), nil
}

func (a *testAdapter) GetFacilityAttributeValues(ctx context.Context, facilityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return nil, nil
}

func (a *testAdapter) GetVoAttributeValues(ctx context.Context, voID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	values := make(map[string]perun.AttributeValue)
	if raw, ok := a.voAups[voID]; ok {
		values[perun.AttrVoAup] = perun.NewLargeStringValue(raw)
	} else {
		values[perun.AttrVoAup] = perun.NullValue(perun.TypeLargeString)
	}
	return values, nil
}

func (a *testAdapter) GetEntitylessAttribute(ctx context.Context, identifier string) (map[string]string, error) {
	return a.orgAups, nil
}

func (a *testAdapter) SetUserAttribute(ctx context.Context, userID int64, identifier string, value perun.AttributeValue) error {
	if a.userAttributes == nil {
		a.userAttributes = make(map[string]perun.AttributeValue)
	}
	a.userAttributes[identifier] = value
	return nil
}

func (a *testAdapter) GetUserGroups(ctx context.Context, userID int64) ([]*perun.Group, error) {
	return nil, nil
}

func (a *testAdapter) GetFacilityGroups(ctx context.Context, facilityID int64) ([]*perun.Group, error) {
	return nil, nil
}

func (a *testAdapter) GetFacilityVos(ctx context.Context, facilityID int64) ([]*perun.Vo, error) {
	return a.vos, nil
}

func (a *testAdapter) GetVoByShortName(ctx context.Context, shortName string) (*perun.Vo, error) {
	return nil, nil
}

func (a *testAdapter) GetFacilityCapabilities(ctx context.Context, facilityID int64) ([]string, error) {
	return nil, nil
}

func (a *testAdapter) GetResourceCapabilities(ctx context.Context, facilityID int64, groupNames []string) ([]string, error) {
	return nil, nil
}

func (a *testAdapter) HasGroupRegistrationForm(ctx context.Context, groupID int64) (bool, error) {
	return false, nil
}

func (a *testAdapter) HasVoRegistrationForm(ctx context.Context, voID int64) (bool, error) {
	return false, nil
}

func (a *testAdapter) Name() string {
	return "test"
}

func mustMarshalAups(t *testing.T, list []*Aup) string {
	t.Helper()
	encoded, err := json.Marshal(list)
	if err != nil {
		t.Fatal(err)
	}
	return string(encoded)
}

func newTestEngine(adapter perun.Adapter, clock func() time.Time) *Engine {
	return NewEngine(&config.Config{
		Logger: testLogger,
	}, adapter, clock)
}

func TestAupsToApproveNoneRequired(t *testing.T) {
	adapter := &testAdapter{}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(toApprove) != 0 {
		t.Errorf("got %d policies to approve, want 0", len(toApprove))
	}
}

func TestAupsToApproveUnsigned(t *testing.T) {
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"org"}),
		},
		orgAups: map[string]string{
			"org": `[{"version":"1","date":"2024-01-01","link":"https://cesnet.cz/aup","text":"terms"}]`,
		},
	}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	policy, ok := toApprove["org"]
	if !ok {
		t.Fatal("unsigned policy not required")
	}
	if policy.Version != "1" || policy.Date != "2024-01-01" {
		t.Errorf("got policy %+v", policy)
	}
}

func TestAupsToApproveOutdatedSignature(t *testing.T) {
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"org"}),
		},
		orgAups: map[string]string{
			"org": `[{"version":"1","date":"2024-01-01"},{"version":"2","date":"2025-01-01"}]`,
		},
		userAttributes: map[string]perun.AttributeValue{
			perun.AttrUserAups: perun.NewMapValue(map[string]string{
				"org": `[{"version":"1","date":"2024-01-01","signed_on":"2024-02-01"}]`,
			}),
		},
	}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	policy, ok := toApprove["org"]
	if !ok {
		t.Fatal("outdated signature not required")
	}
	if policy.Version != "2" {
		t.Errorf("got version %q, want 2", policy.Version)
	}
}

func TestAupsToApproveOrgWinsOverVo(t *testing.T) {
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"vo1"}),
		},
		orgAups: map[string]string{
			"vo1": `[{"version":"org","date":"2025-01-01"}]`,
		},
		vos: []*perun.Vo{
			{ID: 1, ShortName: "vo1"},
		},
		voAups: map[int64]string{
			1: `[{"version":"vo","date":"2025-06-01"}]`,
		},
	}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	policy, ok := toApprove["vo1"]
	if !ok {
		t.Fatal("no policy required")
	}
	if policy.Version != "org" {
		t.Errorf("got version %q, the organization level policy takes precedence", policy.Version)
	}
}

func TestAupsToApproveVoFallback(t *testing.T) {
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"vo1"}),
		},
		vos: []*perun.Vo{
			{ID: 1, ShortName: "vo1"},
		},
		voAups: map[int64]string{
			1: `[{"version":"vo","date":"2025-06-01"}]`,
		},
	}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if policy := toApprove["vo1"]; policy == nil || policy.Version != "vo" {
		t.Errorf("got %+v, want the VO level policy", policy)
	}
}

func TestAupsToApproveUnknownKeySkipped(t *testing.T) {
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"no_such_key"}),
		},
	}
	engine := newTestEngine(adapter, nil)

	toApprove, err := engine.AupsToApprove(context.Background(), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(toApprove) != 0 {
		t.Errorf("got %d policies for a sourceless key, want 0", len(toApprove))
	}
}

func TestLatestAupDateTie(t *testing.T) {
	latest, err := latestAup([]*Aup{
		{Version: "1", Date: "2025-01-01"},
		{Version: "2", Date: "2025-01-01"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != "2" {
		t.Errorf("got version %q, later entries win date ties", latest.Version)
	}
}

func TestLatestAupInvalidDate(t *testing.T) {
	if _, err := latestAup([]*Aup{{Version: "1", Date: "01.01.2025"}}); err == nil {
		t.Error("invalid date did not fail")
	}
}

func TestApproveAupsRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	adapter := &testAdapter{
		facilityAttributes: map[string]perun.AttributeValue{
			perun.AttrFacilityRequiredAups: perun.NewArrayValue([]string{"org"}),
		},
		orgAups: map[string]string{
			"org": `[{"version":"1","date":"2024-01-01","link":"https://cesnet.cz/aup","text":"terms"}]`,
		},
	}
	engine := newTestEngine(adapter, func() time.Time { return now })

	ctx := context.Background()
	toApprove, err := engine.AupsToApprove(ctx, 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(toApprove) != 1 {
		t.Fatalf("got %d policies to approve, want 1", len(toApprove))
	}

	if err := engine.ApproveAups(ctx, 7, toApprove); err != nil {
		t.Fatal(err)
	}

	stored := adapter.userAttributes[perun.AttrUserAups].Map()
	var history []*Aup
	if err := json.Unmarshal([]byte(stored["org"]), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d stored policies, want 1", len(history))
	}
	if got := history[0].SignedOn; got != "2025-06-15" {
		t.Errorf("signedOn got %q, want %q", got, "2025-06-15")
	}

	// A re-evaluation right after approval requires nothing further.
	toApprove, err = engine.AupsToApprove(ctx, 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(toApprove) != 0 {
		t.Errorf("got %d policies to approve after acceptance, want 0", len(toApprove))
	}
}

func TestApproveAupsAppendsHistory(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	existing := mustMarshalAups(t, []*Aup{
		{Version: "1", Date: "2024-01-01", SignedOn: "2024-02-01"},
	})
	adapter := &testAdapter{
		userAttributes: map[string]perun.AttributeValue{
			perun.AttrUserAups: perun.NewMapValue(map[string]string{
				"org": existing,
			}),
		},
	}
	engine := newTestEngine(adapter, func() time.Time { return now })

	err := engine.ApproveAups(context.Background(), 7, map[string]*Aup{
		"org": {Version: "2", Date: "2025-01-01"},
	})
	if err != nil {
		t.Fatal(err)
	}

	stored := adapter.userAttributes[perun.AttrUserAups].Map()
	var history []*Aup
	if err := json.Unmarshal([]byte(stored["org"]), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d stored policies, want 2, histories are append only", len(history))
	}
	if history[0].Version != "1" || history[1].Version != "2" {
		t.Errorf("history order got %q, %q", history[0].Version, history[1].Version)
	}
	if history[1].SignedOn != "2025-06-15" {
		t.Errorf("signedOn got %q", history[1].SignedOn)
	}
}

func TestApproveAupsNothingToApprove(t *testing.T) {
	adapter := &testAdapter{}
	engine := newTestEngine(adapter, nil)

	if err := engine.ApproveAups(context.Background(), 7, nil); err != nil {
		t.Fatal(err)
	}
	if adapter.userAttributes != nil {
		t.Error("empty approval wrote attributes")
	}
}
