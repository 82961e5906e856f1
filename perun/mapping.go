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
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"
)

// AttributeMapping translates an abstract attribute identifier into the
// backend specific names together with a declared value type. Mappings are
// created once at startup from configuration and are immutable afterwards.
type AttributeMapping struct {
	Identifier string        `json:"identifier"`
	RPCName    string        `json:"rpcName"`
	LDAPName   string        `json:"ldapName,omitempty"`
	Type       AttributeType `json:"type"`
	Separator  string        `json:"separator,omitempty"`
}

// MappingRegistry is the static table of attribute mappings keyed by their
// abstract identifiers. The registry is populated once at startup and is
// safe for concurrent readers afterwards.
type MappingRegistry struct {
	mappings map[string]*AttributeMapping

	logger logrus.FieldLogger
}

// NewMappingRegistry creates a MappingRegistry from the provided mappings.
// Identifiers must be unique and declared types must be known.
func NewMappingRegistry(logger logrus.FieldLogger, mappings []*AttributeMapping) (*MappingRegistry, error) {
	r := &MappingRegistry{
		mappings: make(map[string]*AttributeMapping, len(mappings)),
		logger:   logger,
	}

	for _, mapping := range mappings {
		if mapping.Identifier == "" {
			return nil, fmt.Errorf("attribute mapping without identifier")
		}
		if !mapping.Type.valid() {
			return nil, fmt.Errorf("attribute mapping %s has unknown type %q", mapping.Identifier, mapping.Type)
		}
		if _, ok := r.mappings[mapping.Identifier]; ok {
			return nil, fmt.Errorf("duplicate attribute mapping identifier %s", mapping.Identifier)
		}
		if mapping.Type == TypeMapKeyValue && mapping.Separator == "" {
			mapping.Separator = "="
		}
		r.mappings[mapping.Identifier] = mapping
	}

	return r, nil
}

// NewMappingRegistryFromFile loads attribute mappings from the YAML file at
// the provided path and creates a MappingRegistry from them.
func NewMappingRegistryFromFile(logger logrus.FieldLogger, fn string) (*MappingRegistry, error) {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute mappings: %v", err)
	}

	var decoded struct {
		Attributes []*AttributeMapping `json:"attributes"`
	}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse attribute mappings: %v", err)
	}

	registry, err := NewMappingRegistry(logger, decoded.Attributes)
	if err != nil {
		return nil, err
	}
	logger.WithField("count", len(decoded.Attributes)).Debugln("perun attribute mappings loaded")

	return registry, nil
}

// Get returns the mapping registered for the provided identifier, failing
// with an UnknownAttributeError when the identifier is not registered.
func (r *MappingRegistry) Get(identifier string) (*AttributeMapping, error) {
	mapping, ok := r.mappings[identifier]
	if !ok {
		return nil, &UnknownAttributeError{Identifier: identifier}
	}
	return mapping, nil
}

// GetBatch returns the mappings for the provided identifiers. Unknown
// identifiers are logged and dropped, a single bad configuration entry must
// not break an otherwise valid batch fetch.
func (r *MappingRegistry) GetBatch(identifiers []string) []*AttributeMapping {
	mappings := make([]*AttributeMapping, 0, len(identifiers))
	for _, identifier := range identifiers {
		mapping, ok := r.mappings[identifier]
		if !ok {
			r.logger.WithField("identifier", identifier).Warnln("perun attribute mapping unknown identifier dropped from batch")
			continue
		}
		mappings = append(mappings, mapping)
	}
	return mappings
}

// ByLDAPName returns the mapping whose directory name matches the provided
// name. Directory client libraries case fold attribute names, so the match
// is case insensitive.
func (r *MappingRegistry) ByLDAPName(name string) (*AttributeMapping, bool) {
	for _, mapping := range r.mappings {
		if mapping.LDAPName != "" && strings.EqualFold(mapping.LDAPName, name) {
			return mapping, true
		}
	}
	return nil, false
}
