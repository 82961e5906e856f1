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
	"fmt"
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// SourceFactory constructs a Source from its configured options.
type SourceFactory func(opts Options) (Source, error)

// ModifierFactory constructs a Modifier from its configured options.
type ModifierFactory func(opts Options) (Modifier, error)

// The compile time registries mapping configuration declared kind strings to
// constructors. Registration happens in init functions, the registries are
// read only afterwards.
var (
	sourceFactories   = make(map[string]SourceFactory)
	modifierFactories = make(map[string]ModifierFactory)
)

// RegisterSource registers a source factory under the provided kind.
func RegisterSource(kind string, factory SourceFactory) {
	if _, ok := sourceFactories[kind]; ok {
		panic(fmt.Sprintf("claims: duplicate source kind %q", kind))
	}
	sourceFactories[kind] = factory
}

// RegisterModifier registers a modifier factory under the provided kind.
func RegisterModifier(kind string, factory ModifierFactory) {
	if _, ok := modifierFactories[kind]; ok {
		panic(fmt.Sprintf("claims: duplicate modifier kind %q", kind))
	}
	modifierFactories[kind] = factory
}

func init() {
	RegisterSource("static", newStaticSource)
	RegisterSource("attribute", newAttributeSource)
	RegisterSource("attribute_join", newJoinedAttributesSource)
	RegisterSource("groups", newGroupNamesSource)
	RegisterSource("entitlements", newEntitlementSource)
	RegisterSource("map_lookup", newKeyValueSource)

	RegisterModifier("regex_replace", newRegexReplaceModifier)
	RegisterModifier("entitlement_format", newEntitlementFormatModifier)
}

func optsError(kind, reason string) error {
	return fmt.Errorf("claims: %s: %s", kind, reason)
}

// PluginConfig declares one source or modifier instance by kind.
type PluginConfig struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options,omitempty"`
}

// DefinitionConfig declares one custom claim.
type DefinitionConfig struct {
	Scope    string        `json:"scope"`
	Claim    string        `json:"claim"`
	Source   PluginConfig  `json:"source"`
	Modifier *PluginConfig `json:"modifier,omitempty"`
}

// UserInfoClaimConfig binds one standard claim to the attribute identifier
// delivering its value and the scope releasing it.
type UserInfoClaimConfig struct {
	Claim     string `json:"claim"`
	Scope     string `json:"scope"`
	Attribute string `json:"attribute"`
}

// Config is the claims pipeline configuration as loaded from YAML.
type Config struct {
	UserInfo      []UserInfoClaimConfig `json:"userInfo"`
	Claims        []DefinitionConfig    `json:"claims"`
	IDTokenScopes []string              `json:"idTokenScopes"`
}

// LoadConfig reads a pipeline Config from the YAML file at the provided
// path.
func LoadConfig(fn string) (*Config, error) {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("claims: failed to read configuration: %v", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("claims: failed to parse configuration: %v", err)
	}

	return cfg, nil
}

// BuildDefinitions instantiates all configured claim definitions, validating
// every declared kind exhaustively. Unknown kinds fail startup rather than
// surfacing at request time.
func BuildDefinitions(cfg *Config) ([]*Definition, error) {
	definitions := make([]*Definition, 0, len(cfg.Claims))
	for _, declared := range cfg.Claims {
		if declared.Claim == "" || declared.Scope == "" {
			return nil, fmt.Errorf("claims: definition requires both scope and claim")
		}

		factory, ok := sourceFactories[declared.Source.Kind]
		if !ok {
			return nil, fmt.Errorf("claims: unknown source kind %q for claim %s", declared.Source.Kind, declared.Claim)
		}
		source, err := factory(declared.Source.Options)
		if err != nil {
			return nil, fmt.Errorf("claims: claim %s: %v", declared.Claim, err)
		}

		var modifier Modifier
		if declared.Modifier != nil {
			modifierFactory, ok := modifierFactories[declared.Modifier.Kind]
			if !ok {
				return nil, fmt.Errorf("claims: unknown modifier kind %q for claim %s", declared.Modifier.Kind, declared.Claim)
			}
			modifier, err = modifierFactory(declared.Modifier.Options)
			if err != nil {
				return nil, fmt.Errorf("claims: claim %s: %v", declared.Claim, err)
			}
		}

		definitions = append(definitions, &Definition{
			Scope:    declared.Scope,
			Claim:    declared.Claim,
			Source:   source,
			Modifier: modifier,
		})
	}

	return definitions, nil
}
