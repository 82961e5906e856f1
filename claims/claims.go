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

// Package claims implements the pluggable pipeline which turns raw Perun
// attributes into scoped OIDC claims.
package claims

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cesnet/perun-oidc-bridge/perun"
)

// ProduceContext is the per request immutable bundle passed to every claim
// source invocation.
type ProduceContext struct {
	UserID     int64
	Subject    string
	ClientID   string
	Attributes map[string]perun.AttributeValue
	Adapter    perun.Adapter
}

// A Source produces the value of one custom claim. Sources are instantiated
// once from configuration, shared across requests and must therefore be
// stateless and safe for concurrent use. A nil produced value omits the
// claim entirely.
type Source interface {
	ProduceValue(ctx context.Context, pctx *ProduceContext) (interface{}, error)
}

// An AttributeDependentSource declares the attribute identifiers it reads
// from the ProduceContext, allowing the pipeline to resolve them in one
// batched backend call up front.
type AttributeDependentSource interface {
	Source
	Attributes() []string
}

// A Modifier transforms a single leaf string value of a produced claim.
// Modifiers are applied to scalars and to each element of an array, never to
// non string structures.
type Modifier interface {
	Modify(value string) string
}

// Definition binds one custom claim to its scope, source and optional
// modifier. Definitions are built once at startup and shared.
type Definition struct {
	Scope    string
	Claim    string
	Source   Source
	Modifier Modifier
}

// applyModifier applies the provided modifier to every leaf string of the
// provided claim value.
func applyModifier(value interface{}, modifier Modifier) interface{} {
	if modifier == nil {
		return value
	}
	switch typed := value.(type) {
	case string:
		return modifier.Modify(typed)
	case []string:
		modified := make([]string, len(typed))
		for idx, element := range typed {
			modified[idx] = modifier.Modify(element)
		}
		return modified
	case []interface{}:
		modified := make([]interface{}, len(typed))
		for idx, element := range typed {
			if s, ok := element.(string); ok {
				modified[idx] = modifier.Modify(s)
			} else {
				modified[idx] = element
			}
		}
		return modified
	default:
		return value
	}
}

// FormatEntitlement formats a value as an AARC entitlement string, prefix +
// escaped value + "#" + authority. A value ending in ":members" has the
// suffix stripped first, it represents membership in the VO itself rather
// than a true subgroup.
func FormatEntitlement(prefix, value, authority string) string {
	value = strings.TrimSuffix(value, ":"+perun.MembersGroupName)
	return prefix + url.PathEscape(value) + "#" + authority
}

// Options carries the free form configuration options of one source or
// modifier instance.
type Options map[string]interface{}

// String returns the string option stored under key, or "".
func (o Options) String(key string) string {
	value, _ := o[key].(string)
	return value
}

// RequiredString returns the string option stored under key, failing when it
// is absent or empty.
func (o Options) RequiredString(key string) (string, error) {
	value := o.String(key)
	if value == "" {
		return "", fmt.Errorf("missing required option %q", key)
	}
	return value, nil
}

// StringList returns the string list option stored under key.
func (o Options) StringList(key string) []string {
	raw, ok := o[key].([]interface{})
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, element := range raw {
		if s, ok := element.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
