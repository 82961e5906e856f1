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

package claims

import (
	"context"
	"sort"
	"strings"

	"github.com/cesnet/perun-oidc-bridge/perun"
)

// staticSource produces a fixed configured value.
type staticSource struct {
	value interface{}
}

func newStaticSource(opts Options) (Source, error) {
	value, ok := opts["value"]
	if !ok {
		return nil, optsError("static", "missing required option \"value\"")
	}
	return &staticSource{value: value}, nil
}

// ProduceValue implements the Source interface.
func (s *staticSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	return s.value, nil
}

// attributeSource passes one resolved attribute value through, in its
// natural JSON shape. Null values omit the claim.
type attributeSource struct {
	attribute string
}

func newAttributeSource(opts Options) (Source, error) {
	attribute, err := opts.RequiredString("attribute")
	if err != nil {
		return nil, optsError("attribute", err.Error())
	}
	return &attributeSource{attribute: attribute}, nil
}

// Attributes implements the AttributeDependentSource interface.
func (s *attributeSource) Attributes() []string {
	return []string{s.attribute}
}

// ProduceValue implements the Source interface.
func (s *attributeSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	value, ok := pctx.Attributes[s.attribute]
	if !ok || value.IsNull() {
		return nil, nil
	}

	return attributeClaimValue(value), nil
}

// attributeClaimValue converts a typed attribute value into its claim
// representation.
func attributeClaimValue(value perun.AttributeValue) interface{} {
	switch value.Type() {
	case perun.TypeInteger:
		return value.Int()
	case perun.TypeBoolean:
		return value.Bool()
	case perun.TypeArray, perun.TypeLargeArray:
		return value.List()
	case perun.TypeMapJSON, perun.TypeMapKeyValue:
		return value.Map()
	default:
		return value.String()
	}
}

// joinedAttributesSource joins the values of several attributes into one
// flat string list, scalars contributing one element each.
type joinedAttributesSource struct {
	attributes []string
}

func newJoinedAttributesSource(opts Options) (Source, error) {
	attributes := opts.StringList("attributes")
	if len(attributes) == 0 {
		return nil, optsError("attribute_join", "missing required option \"attributes\"")
	}
	return &joinedAttributesSource{attributes: attributes}, nil
}

// Attributes implements the AttributeDependentSource interface.
func (s *joinedAttributesSource) Attributes() []string {
	return s.attributes
}

// ProduceValue implements the Source interface.
func (s *joinedAttributesSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	joined := make([]string, 0)
	for _, attribute := range s.attributes {
		value, ok := pctx.Attributes[attribute]
		if !ok || value.IsNull() {
			continue
		}
		switch value.Type() {
		case perun.TypeArray, perun.TypeLargeArray:
			joined = append(joined, value.List()...)
		default:
			if value.String() != "" {
				joined = append(joined, value.String())
			}
		}
	}
	if len(joined) == 0 {
		return nil, nil
	}

	return joined, nil
}

// groupNamesSource produces the unique names of the groups the user is an
// active member of, with ":members" suffixes stripped.
type groupNamesSource struct{}

func newGroupNamesSource(opts Options) (Source, error) {
	return &groupNamesSource{}, nil
}

// ProduceValue implements the Source interface.
func (s *groupNamesSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	groups, err := pctx.Adapter.GetUserGroups(ctx, pctx.UserID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(groups))
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		name := group.UniqueGroupName()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// entitlementSource produces AARC formatted entitlement strings from the
// user's group memberships and, when the requesting client resolves to a
// facility, from the capabilities assigned through that facility.
type entitlementSource struct {
	prefix    string
	authority string
}

func newEntitlementSource(opts Options) (Source, error) {
	prefix, err := opts.RequiredString("prefix")
	if err != nil {
		return nil, optsError("entitlements", err.Error())
	}
	authority, err := opts.RequiredString("authority")
	if err != nil {
		return nil, optsError("entitlements", err.Error())
	}
	return &entitlementSource{
		prefix:    prefix,
		authority: authority,
	}, nil
}

// ProduceValue implements the Source interface.
func (s *entitlementSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	groups, err := pctx.Adapter.GetUserGroups(ctx, pctx.UserID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	entitlements := make([]string, 0, len(groups))
	add := func(value string) {
		entitlement := FormatEntitlement(s.prefix, value, s.authority)
		if !seen[entitlement] {
			seen[entitlement] = true
			entitlements = append(entitlements, entitlement)
		}
	}

	groupNames := make([]string, 0, len(groups))
	for _, group := range groups {
		name := group.UniqueGroupName()
		if name == "" {
			continue
		}
		groupNames = append(groupNames, name)
		add(name)
	}

	if pctx.ClientID != "" {
		facility, err := pctx.Adapter.GetFacilityByClientID(ctx, pctx.ClientID)
		if err != nil {
			return nil, err
		}
		if facility != nil {
			capabilities, err := pctx.Adapter.GetResourceCapabilities(ctx, facility.ID, groupNames)
			if err != nil {
				return nil, err
			}
			facilityCapabilities, err := pctx.Adapter.GetFacilityCapabilities(ctx, facility.ID)
			if err != nil {
				return nil, err
			}
			for _, capability := range append(capabilities, facilityCapabilities...) {
				add(capability)
			}
		}
	}

	if len(entitlements) == 0 {
		return nil, nil
	}
	sort.Strings(entitlements)

	return entitlements, nil
}

// keyValueSource produces one value of a MAP_KEY_VALUE or MAP_JSON attribute
// selected by a configured key.
type keyValueSource struct {
	attribute string
	key       string
}

func newKeyValueSource(opts Options) (Source, error) {
	attribute, err := opts.RequiredString("attribute")
	if err != nil {
		return nil, optsError("map_lookup", err.Error())
	}
	key, err := opts.RequiredString("key")
	if err != nil {
		return nil, optsError("map_lookup", err.Error())
	}
	return &keyValueSource{
		attribute: attribute,
		key:       key,
	}, nil
}

// Attributes implements the AttributeDependentSource interface.
func (s *keyValueSource) Attributes() []string {
	return []string{s.attribute}
}

// ProduceValue implements the Source interface.
func (s *keyValueSource) ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error) {
	value, ok := pctx.Attributes[s.attribute]
	if !ok {
		return nil, nil
	}
	selected, ok := value.Map()[s.key]
	if !ok || strings.TrimSpace(selected) == "" {
		return nil, nil
	}

	return selected, nil
}
