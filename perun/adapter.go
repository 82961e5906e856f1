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

package perun

import (
	"context"
)

// An Adapter is a capability interface to the Perun system of record. Two
// implementations exist, a directory adapter and an RPC adapter, which must
// produce behaviorally equivalent results for equivalent underlying state.
//
// Lookups which cannot find their subject return nil (or a typed null value)
// together with a nil error; errors are reserved for faults.
type Adapter interface {
	// GetPerunUser resolves the Perun user for a login of the provided
	// external identity source. A nil user means the principal is unknown.
	GetPerunUser(ctx context.Context, extSourceName string, extLogin string) (*User, error)

	// GetFacilityByClientID resolves the facility registered for the
	// provided OAuth2 client identifier.
	GetFacilityByClientID(ctx context.Context, clientID string) (*Facility, error)

	// GetUserAttributeValue fetches a single user attribute value.
	GetUserAttributeValue(ctx context.Context, userID int64, identifier string) (AttributeValue, error)

	// GetUserAttributeValues fetches user attribute values for the provided
	// identifiers in one backend call. Unknown identifiers are dropped.
	GetUserAttributeValues(ctx context.Context, userID int64, identifiers []string) (map[string]AttributeValue, error)

	// GetFacilityAttributeValue fetches a single facility attribute value.
	GetFacilityAttributeValue(ctx context.Context, facilityID int64, identifier string) (AttributeValue, error)

	// GetFacilityAttributeValues fetches facility attribute values for the
	// provided identifiers in one backend call.
	GetFacilityAttributeValues(ctx context.Context, facilityID int64, identifiers []string) (map[string]AttributeValue, error)

	// GetVoAttributeValues fetches VO attribute values for the provided
	// identifiers in one backend call.
	GetVoAttributeValues(ctx context.Context, voID int64, identifiers []string) (map[string]AttributeValue, error)

	// GetEntitylessAttribute fetches a global keyed attribute as a map of
	// key to raw value.
	GetEntitylessAttribute(ctx context.Context, identifier string) (map[string]string, error)

	// SetUserAttribute stores a single user attribute value.
	SetUserAttribute(ctx context.Context, userID int64, identifier string, value AttributeValue) error

	// GetUserGroups enumerates the groups the provided user is an active
	// member of, across all VOs.
	GetUserGroups(ctx context.Context, userID int64) ([]*Group, error)

	// GetFacilityGroups enumerates the groups assigned to any resource of
	// the provided facility.
	GetFacilityGroups(ctx context.Context, facilityID int64) ([]*Group, error)

	// GetFacilityVos enumerates the VOs whose groups are assigned to
	// resources of the provided facility.
	GetFacilityVos(ctx context.Context, facilityID int64) ([]*Vo, error)

	// GetVoByShortName resolves a VO by its short name.
	GetVoByShortName(ctx context.Context, shortName string) (*Vo, error)

	// GetFacilityCapabilities returns the facility level capabilities of the
	// provided facility.
	GetFacilityCapabilities(ctx context.Context, facilityID int64) ([]string, error)

	// GetResourceCapabilities aggregates the capabilities assigned through
	// the facility's resources to groups whose unique names are contained in
	// the provided set.
	GetResourceCapabilities(ctx context.Context, facilityID int64, groupNames []string) ([]string, error)

	// HasGroupRegistrationForm reports whether the provided group exposes a
	// registration form.
	HasGroupRegistrationForm(ctx context.Context, groupID int64) (bool, error)

	// HasVoRegistrationForm reports whether the members group of the
	// provided VO exposes a registration form.
	HasVoRegistrationForm(ctx context.Context, voID int64) (bool, error)

	// Name returns the name of the adapter implementation.
	Name() string
}
