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

package backends

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/perun"
)

const fallbackAdapterName = "perun-ldap+rpc"

// Fallback operation policy per adapter operation. OpPrimary operations run
// against the primary adapter and delegate only when the primary reports
// ErrNotInDirectory; OpSecondaryOnly operations always run against the
// secondary adapter. The table is data so a port of this adapter can decide
// per operation whether fallback is required.
type fallbackOp int

const (
	opPrimary fallbackOp = iota
	opSecondaryOnly
)

// FallbackTable is the explicit per-operation fallback policy of the
// FallbackAdapter.
var FallbackTable = map[string]fallbackOp{
	"GetPerunUser":               opPrimary,
	"GetFacilityByClientID":      opPrimary,
	"GetUserAttributeValue":      opPrimary,
	"GetUserAttributeValues":     opPrimary,
	"GetFacilityAttributeValue":  opPrimary,
	"GetFacilityAttributeValues": opPrimary,
	"GetVoAttributeValues":       opPrimary,
	"GetUserGroups":              opPrimary,
	"GetFacilityGroups":          opPrimary,
	"GetFacilityVos":             opPrimary,
	"GetVoByShortName":           opPrimary,
	"GetFacilityCapabilities":    opPrimary,
	"GetResourceCapabilities":    opPrimary,
	"GetEntitylessAttribute":     opSecondaryOnly,
	"SetUserAttribute":           opSecondaryOnly,
	"HasGroupRegistrationForm":   opSecondaryOnly,
	"HasVoRegistrationForm":      opSecondaryOnly,
}

// FallbackAdapter composes a primary (directory) adapter with a secondary
// (RPC) adapter. Operations delegate according to FallbackTable; callers see
// a sound result or an error, never a degraded signal.
type FallbackAdapter struct {
	primary   perun.Adapter
	secondary perun.Adapter

	logger logrus.FieldLogger
}

// NewFallbackAdapter creates a new FallbackAdapter composing the provided
// adapters.
func NewFallbackAdapter(logger logrus.FieldLogger, primary perun.Adapter, secondary perun.Adapter) *FallbackAdapter {
	return &FallbackAdapter{
		primary:   primary,
		secondary: secondary,

		logger: logger,
	}
}

// Name implements the perun.Adapter interface.
func (a *FallbackAdapter) Name() string {
	return fallbackAdapterName
}

func (a *FallbackAdapter) delegated(op string, err error) bool {
	if FallbackTable[op] == opSecondaryOnly {
		return true
	}
	if errors.Is(err, ErrNotInDirectory) {
		a.logger.WithField("op", op).Debugln("perun fallback adapter delegating to secondary")
		return true
	}
	return false
}

// GetPerunUser implements the perun.Adapter interface.
func (a *FallbackAdapter) GetPerunUser(ctx context.Context, extSourceName string, extLogin string) (*perun.User, error) {
	user, err := a.primary.GetPerunUser(ctx, extSourceName, extLogin)
	if err != nil && a.delegated("GetPerunUser", err) {
		return a.secondary.GetPerunUser(ctx, extSourceName, extLogin)
	}
	return user, err
}

// GetFacilityByClientID implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityByClientID(ctx context.Context, clientID string) (*perun.Facility, error) {
	facility, err := a.primary.GetFacilityByClientID(ctx, clientID)
	if err != nil && a.delegated("GetFacilityByClientID", err) {
		return a.secondary.GetFacilityByClientID(ctx, clientID)
	}
	return facility, err
}

// GetUserAttributeValue implements the perun.Adapter interface.
func (a *FallbackAdapter) GetUserAttributeValue(ctx context.Context, userID int64, identifier string) (perun.AttributeValue, error) {
	value, err := a.primary.GetUserAttributeValue(ctx, userID, identifier)
	if err != nil && a.delegated("GetUserAttributeValue", err) {
		return a.secondary.GetUserAttributeValue(ctx, userID, identifier)
	}
	return value, err
}

// GetUserAttributeValues implements the perun.Adapter interface.
func (a *FallbackAdapter) GetUserAttributeValues(ctx context.Context, userID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	values, err := a.primary.GetUserAttributeValues(ctx, userID, identifiers)
	if err != nil && a.delegated("GetUserAttributeValues", err) {
		return a.secondary.GetUserAttributeValues(ctx, userID, identifiers)
	}
	return values, err
}

// GetFacilityAttributeValue implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityAttributeValue(ctx context.Context, facilityID int64, identifier string) (perun.AttributeValue, error) {
	value, err := a.primary.GetFacilityAttributeValue(ctx, facilityID, identifier)
	if err != nil && a.delegated("GetFacilityAttributeValue", err) {
		return a.secondary.GetFacilityAttributeValue(ctx, facilityID, identifier)
	}
	return value, err
}

// GetFacilityAttributeValues implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityAttributeValues(ctx context.Context, facilityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	values, err := a.primary.GetFacilityAttributeValues(ctx, facilityID, identifiers)
	if err != nil && a.delegated("GetFacilityAttributeValues", err) {
		return a.secondary.GetFacilityAttributeValues(ctx, facilityID, identifiers)
	}
	return values, err
}

// GetVoAttributeValues implements the perun.Adapter interface.
func (a *FallbackAdapter) GetVoAttributeValues(ctx context.Context, voID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	values, err := a.primary.GetVoAttributeValues(ctx, voID, identifiers)
	if err != nil && a.delegated("GetVoAttributeValues", err) {
		return a.secondary.GetVoAttributeValues(ctx, voID, identifiers)
	}
	return values, err
}

// GetEntitylessAttribute implements the perun.Adapter interface.
func (a *FallbackAdapter) GetEntitylessAttribute(ctx context.Context, identifier string) (map[string]string, error) {
	return a.secondary.GetEntitylessAttribute(ctx, identifier)
}

// SetUserAttribute implements the perun.Adapter interface.
func (a *FallbackAdapter) SetUserAttribute(ctx context.Context, userID int64, identifier string, value perun.AttributeValue) error {
	return a.secondary.SetUserAttribute(ctx, userID, identifier, value)
}

// GetUserGroups implements the perun.Adapter interface.
func (a *FallbackAdapter) GetUserGroups(ctx context.Context, userID int64) ([]*perun.Group, error) {
	groups, err := a.primary.GetUserGroups(ctx, userID)
	if err != nil && a.delegated("GetUserGroups", err) {
		return a.secondary.GetUserGroups(ctx, userID)
	}
	return groups, err
}

// GetFacilityGroups implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityGroups(ctx context.Context, facilityID int64) ([]*perun.Group, error) {
	groups, err := a.primary.GetFacilityGroups(ctx, facilityID)
	if err != nil && a.delegated("GetFacilityGroups", err) {
		return a.secondary.GetFacilityGroups(ctx, facilityID)
	}
	return groups, err
}

// GetFacilityVos implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityVos(ctx context.Context, facilityID int64) ([]*perun.Vo, error) {
	vos, err := a.primary.GetFacilityVos(ctx, facilityID)
	if err != nil && a.delegated("GetFacilityVos", err) {
		return a.secondary.GetFacilityVos(ctx, facilityID)
	}
	return vos, err
}

// GetVoByShortName implements the perun.Adapter interface.
func (a *FallbackAdapter) GetVoByShortName(ctx context.Context, shortName string) (*perun.Vo, error) {
	vo, err := a.primary.GetVoByShortName(ctx, shortName)
	if err != nil && a.delegated("GetVoByShortName", err) {
		return a.secondary.GetVoByShortName(ctx, shortName)
	}
	return vo, err
}

// GetFacilityCapabilities implements the perun.Adapter interface.
func (a *FallbackAdapter) GetFacilityCapabilities(ctx context.Context, facilityID int64) ([]string, error) {
	capabilities, err := a.primary.GetFacilityCapabilities(ctx, facilityID)
	if err != nil && a.delegated("GetFacilityCapabilities", err) {
		return a.secondary.GetFacilityCapabilities(ctx, facilityID)
	}
	return capabilities, err
}

// GetResourceCapabilities implements the perun.Adapter interface.
func (a *FallbackAdapter) GetResourceCapabilities(ctx context.Context, facilityID int64, groupNames []string) ([]string, error) {
	capabilities, err := a.primary.GetResourceCapabilities(ctx, facilityID, groupNames)
	if err != nil && a.delegated("GetResourceCapabilities", err) {
		return a.secondary.GetResourceCapabilities(ctx, facilityID, groupNames)
	}
	return capabilities, err
}

// HasGroupRegistrationForm implements the perun.Adapter interface.
func (a *FallbackAdapter) HasGroupRegistrationForm(ctx context.Context, groupID int64) (bool, error) {
	return a.secondary.HasGroupRegistrationForm(ctx, groupID)
}

// HasVoRegistrationForm implements the perun.Adapter interface.
func (a *FallbackAdapter) HasVoRegistrationForm(ctx context.Context, voID int64) (bool, error) {
	return a.secondary.HasVoRegistrationForm(ctx, voID)
}
