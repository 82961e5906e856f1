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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

const rpcAdapterName = "perun-rpc"

// RPC manager names of the Perun JSON interface.
const (
	rpcUsersManager      = "usersManager"
	rpcFacilitiesManager = "facilitiesManager"
	rpcAttributesManager = "attributesManager"
	rpcGroupsManager     = "groupsManager"
	rpcResourcesManager  = "resourcesManager"
	rpcVosManager        = "vosManager"
	rpcRegistrarManager  = "registrarManager"
)

// RPCError is a non 2xx response of the Perun RPC interface.
type RPCError struct {
	Status  int
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Error implements the error interface.
func (err *RPCError) Error() string {
	return fmt.Sprintf("perun rpc error %d: %s", err.Status, err.Message)
}

// RPCAdapter implements the perun.Adapter interface against the Perun JSON
// over HTTP interface. Calls are stateless blocking POST requests with HTTP
// Basic auth, one per operation.
type RPCAdapter struct {
	baseURL  string
	username string
	password string

	registry     *perun.MappingRegistry
	clientIDAttr string

	client *http.Client
	logger logrus.FieldLogger
}

// NewRPCAdapter creates a new RPCAdapter with the provided parameters. The
// clientIDAttr identifier names the facility attribute holding the OAuth2
// client ID, it is the sole join key between the OAuth2 client registry and
// the Perun entity graph.
func NewRPCAdapter(c *config.Config, registry *perun.MappingRegistry, baseURL, username, password, clientIDAttr string) (*RPCAdapter, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("perun rpc backend base URL must not be empty")
	}
	if clientIDAttr == "" {
		return nil, fmt.Errorf("perun rpc backend client ID attribute must not be empty")
	}
	if _, err := registry.Get(clientIDAttr); err != nil {
		return nil, fmt.Errorf("perun rpc backend client ID attribute: %v", err)
	}

	a := &RPCAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,

		registry:     registry,
		clientIDAttr: clientIDAttr,

		client: &http.Client{
			Transport: c.HTTPTransport,
		},
		logger: c.Logger,
	}

	a.logger.WithField("rpc", a.baseURL).Infoln("perun rpc backend set up")

	return a, nil
}

// Name implements the perun.Adapter interface.
func (a *RPCAdapter) Name() string {
	return rpcAdapterName
}

// call posts the provided named parameters to {base}/json/{manager}/{method}
// and decodes the JSON response into result. Transport failures surface as
// perun.BackendUnavailableError, application failures as *RPCError.
func (a *RPCAdapter) call(ctx context.Context, manager, method string, params map[string]interface{}, result interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("perun rpc backend failed to encode parameters: %v", err)
	}

	url := fmt.Sprintf("%s/json/%s/%s", a.baseURL, manager, method)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("perun rpc backend failed to create request: %v", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.username, a.password)

	response, err := a.client.Do(req)
	if err != nil {
		return &perun.BackendUnavailableError{Backend: rpcAdapterName, Err: err}
	}
	defer response.Body.Close()

	data, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return &perun.BackendUnavailableError{Backend: rpcAdapterName, Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		rpcErr := &RPCError{Status: response.StatusCode}
		if jsonErr := json.Unmarshal(data, rpcErr); jsonErr != nil {
			rpcErr.Message = strings.TrimSpace(string(data))
		}
		return rpcErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("perun rpc backend failed to decode %s/%s response: %v", manager, method, err)
	}

	return nil
}

// isNotFound reports whether the provided error is an authoritative negative
// answer of the RPC interface rather than a fault.
func isNotFound(err error) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	if rpcErr.Status == http.StatusNotFound {
		return true
	}
	return strings.Contains(rpcErr.Name, "NotExists")
}

// GetPerunUser implements the perun.Adapter interface.
func (a *RPCAdapter) GetPerunUser(ctx context.Context, extSourceName string, extLogin string) (*perun.User, error) {
	var user perun.User
	err := a.call(ctx, rpcUsersManager, "getUserByExtSourceNameAndExtLogin", map[string]interface{}{
		"extSourceName": extSourceName,
		"extLogin":      extLogin,
	}, &user)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("perun rpc backend get user error: %w", err)
	}

	return &user, nil
}

// GetFacilityByClientID implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityByClientID(ctx context.Context, clientID string) (*perun.Facility, error) {
	mapping, err := a.registry.Get(a.clientIDAttr)
	if err != nil {
		return nil, err
	}

	var facilities []*perun.Facility
	err = a.call(ctx, rpcFacilitiesManager, "getFacilitiesByAttribute", map[string]interface{}{
		"attributeName":  mapping.RPCName,
		"attributeValue": clientID,
	}, &facilities)
	if err != nil {
		return nil, fmt.Errorf("perun rpc backend get facility error: %w", err)
	}

	if len(facilities) == 0 {
		return nil, nil
	}
	if len(facilities) > 1 {
		a.logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"count":     len(facilities),
		}).Warnln("perun rpc backend multiple facilities for client, using first")
	}

	return facilities[0], nil
}

// rpcAttribute is the wire representation of a Perun attribute.
type rpcAttribute struct {
	ID           int64       `json:"id,omitempty"`
	Namespace    string      `json:"namespace,omitempty"`
	FriendlyName string      `json:"friendlyName,omitempty"`
	Name         string      `json:"name"`
	Value        interface{} `json:"value"`
}

// getAttributes is the shared batch fetch for one entity. All requested
// identifiers resolve into one backend call.
func (a *RPCAdapter) getAttributes(ctx context.Context, entityKey string, entityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	mappings := a.registry.GetBatch(identifiers)
	values := make(map[string]perun.AttributeValue, len(mappings))
	if len(mappings) == 0 {
		return values, nil
	}

	rpcNames := make([]string, 0, len(mappings))
	byRPCName := make(map[string]*perun.AttributeMapping, len(mappings))
	for _, mapping := range mappings {
		rpcNames = append(rpcNames, mapping.RPCName)
		byRPCName[mapping.RPCName] = mapping
		// Absent attributes read as the typed null defaults.
		values[mapping.Identifier] = perun.NullValue(mapping.Type)
	}

	var attributes []*rpcAttribute
	err := a.call(ctx, rpcAttributesManager, "getAttributes", map[string]interface{}{
		entityKey:   entityID,
		"attrNames": rpcNames,
	}, &attributes)
	if err != nil {
		return nil, fmt.Errorf("perun rpc backend get attributes error: %w", err)
	}

	for _, attribute := range attributes {
		mapping, ok := byRPCName[attribute.Name]
		if !ok {
			continue
		}
		value, err := perun.ParseJSONValue(mapping, attribute.Value)
		if err != nil {
			return nil, err
		}
		values[mapping.Identifier] = value
	}

	return values, nil
}

// getAttribute is the shared single fetch for one entity, failing fast on
// unknown identifiers.
func (a *RPCAdapter) getAttribute(ctx context.Context, entityKey string, entityID int64, identifier string) (perun.AttributeValue, error) {
	mapping, err := a.registry.Get(identifier)
	if err != nil {
		return perun.AttributeValue{}, err
	}

	var attribute rpcAttribute
	err = a.call(ctx, rpcAttributesManager, "getAttribute", map[string]interface{}{
		entityKey:       entityID,
		"attributeName": mapping.RPCName,
	}, &attribute)
	if err != nil {
		if isNotFound(err) {
			return perun.NullValue(mapping.Type), nil
		}
		return perun.AttributeValue{}, fmt.Errorf("perun rpc backend get attribute error: %w", err)
	}

	return perun.ParseJSONValue(mapping, attribute.Value)
}

// GetUserAttributeValue implements the perun.Adapter interface.
func (a *RPCAdapter) GetUserAttributeValue(ctx context.Context, userID int64, identifier string) (perun.AttributeValue, error) {
	return a.getAttribute(ctx, "user", userID, identifier)
}

// GetUserAttributeValues implements the perun.Adapter interface.
func (a *RPCAdapter) GetUserAttributeValues(ctx context.Context, userID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, "user", userID, identifiers)
}

// GetFacilityAttributeValue implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityAttributeValue(ctx context.Context, facilityID int64, identifier string) (perun.AttributeValue, error) {
	return a.getAttribute(ctx, "facility", facilityID, identifier)
}

// GetFacilityAttributeValues implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityAttributeValues(ctx context.Context, facilityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, "facility", facilityID, identifiers)
}

// GetVoAttributeValues implements the perun.Adapter interface.
func (a *RPCAdapter) GetVoAttributeValues(ctx context.Context, voID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, "vo", voID, identifiers)
}

// GetEntitylessAttribute implements the perun.Adapter interface. Entity-less
// attributes are keyed globally, the keys are enumerated first and each value
// is fetched afterwards.
func (a *RPCAdapter) GetEntitylessAttribute(ctx context.Context, identifier string) (map[string]string, error) {
	mapping, err := a.registry.Get(identifier)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = a.call(ctx, rpcAttributesManager, "getEntitylessKeys", map[string]interface{}{
		"attributeName": mapping.RPCName,
	}, &keys)
	if err != nil {
		return nil, fmt.Errorf("perun rpc backend get entityless keys error: %w", err)
	}

	values := make(map[string]string, len(keys))
	for _, key := range keys {
		var attribute rpcAttribute
		err = a.call(ctx, rpcAttributesManager, "getAttribute", map[string]interface{}{
			"key":           key,
			"attributeName": mapping.RPCName,
		}, &attribute)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("perun rpc backend get entityless attribute error: %w", err)
		}
		if attribute.Value == nil {
			continue
		}
		switch value := attribute.Value.(type) {
		case string:
			values[key] = value
		default:
			encoded, encodeErr := json.Marshal(value)
			if encodeErr != nil {
				return nil, &perun.InconvertibleValueError{
					Identifier: identifier,
					Type:       mapping.Type,
					Reason:     fmt.Sprintf("unparseable embedded JSON: %v", encodeErr),
				}
			}
			values[key] = string(encoded)
		}
	}

	return values, nil
}

// SetUserAttribute implements the perun.Adapter interface.
func (a *RPCAdapter) SetUserAttribute(ctx context.Context, userID int64, identifier string, value perun.AttributeValue) error {
	mapping, err := a.registry.Get(identifier)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("perun rpc backend failed to encode attribute value: %v", err)
	}
	var raw interface{}
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return fmt.Errorf("perun rpc backend failed to encode attribute value: %v", err)
	}

	err = a.call(ctx, rpcAttributesManager, "setAttribute", map[string]interface{}{
		"user": userID,
		"attribute": map[string]interface{}{
			"name":  mapping.RPCName,
			"value": raw,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("perun rpc backend set attribute error: %w", err)
	}

	return nil
}

// GetUserGroups implements the perun.Adapter interface. Group unique names
// are resolved through the owning VO short names.
func (a *RPCAdapter) GetUserGroups(ctx context.Context, userID int64) ([]*perun.Group, error) {
	var groups []*perun.Group
	err := a.call(ctx, rpcUsersManager, "getGroupsWhereUserIsActive", map[string]interface{}{
		"user": userID,
	}, &groups)
	if err != nil {
		return nil, fmt.Errorf("perun rpc backend get user groups error: %w", err)
	}

	if err := a.fillUniqueNames(ctx, groups); err != nil {
		return nil, err
	}

	return groups, nil
}

// GetFacilityGroups implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityGroups(ctx context.Context, facilityID int64) ([]*perun.Group, error) {
	resources, err := a.getAssignedResources(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var groups []*perun.Group
	for _, resource := range resources {
		var assigned []*perun.Group
		err := a.call(ctx, rpcResourcesManager, "getAssignedGroups", map[string]interface{}{
			"resource": resource.ID,
		}, &assigned)
		if err != nil {
			return nil, fmt.Errorf("perun rpc backend get assigned groups error: %w", err)
		}
		for _, group := range assigned {
			if seen[group.ID] {
				continue
			}
			seen[group.ID] = true
			groups = append(groups, group)
		}
	}

	if err := a.fillUniqueNames(ctx, groups); err != nil {
		return nil, err
	}

	return groups, nil
}

// GetFacilityVos implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityVos(ctx context.Context, facilityID int64) ([]*perun.Vo, error) {
	groups, err := a.GetFacilityGroups(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var vos []*perun.Vo
	for _, group := range groups {
		if seen[group.VoID] {
			continue
		}
		seen[group.VoID] = true
		vo, err := a.getVoByID(ctx, group.VoID)
		if err != nil {
			return nil, err
		}
		if vo != nil {
			vos = append(vos, vo)
		}
	}

	return vos, nil
}

// GetVoByShortName implements the perun.Adapter interface.
func (a *RPCAdapter) GetVoByShortName(ctx context.Context, shortName string) (*perun.Vo, error) {
	var vo perun.Vo
	err := a.call(ctx, rpcVosManager, "getVoByShortName", map[string]interface{}{
		"shortName": shortName,
	}, &vo)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("perun rpc backend get vo error: %w", err)
	}

	return &vo, nil
}

// GetFacilityCapabilities implements the perun.Adapter interface.
func (a *RPCAdapter) GetFacilityCapabilities(ctx context.Context, facilityID int64) ([]string, error) {
	value, err := a.getAttribute(ctx, "facility", facilityID, perun.AttrFacilityCapabilities)
	if err != nil {
		if _, ok := err.(*perun.UnknownAttributeError); ok {
			a.logger.WithField("attribute", perun.AttrFacilityCapabilities).Warnln("perun rpc backend capabilities attribute not in registry, resolving none")
			return []string{}, nil
		}
		return nil, err
	}

	return value.List(), nil
}

// GetResourceCapabilities implements the perun.Adapter interface.
func (a *RPCAdapter) GetResourceCapabilities(ctx context.Context, facilityID int64, groupNames []string) ([]string, error) {
	resources, err := a.getAssignedResources(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	var assignments []resourceGroupCapabilities
	for _, resource := range resources {
		value, err := a.getAttribute(ctx, "resource", resource.ID, perun.AttrResourceCapabilities)
		if err != nil {
			if _, ok := err.(*perun.UnknownAttributeError); ok {
				a.logger.WithField("attribute", perun.AttrResourceCapabilities).Warnln("perun rpc backend capabilities attribute not in registry, resolving none")
				return []string{}, nil
			}
			return nil, err
		}
		if value.IsNull() {
			continue
		}

		var assigned []*perun.Group
		err = a.call(ctx, rpcResourcesManager, "getAssignedGroups", map[string]interface{}{
			"resource": resource.ID,
		}, &assigned)
		if err != nil {
			return nil, fmt.Errorf("perun rpc backend get assigned groups error: %w", err)
		}
		if err := a.fillUniqueNames(ctx, assigned); err != nil {
			return nil, err
		}

		names := make([]string, 0, len(assigned))
		for _, group := range assigned {
			names = append(names, group.UniqueGroupName())
		}
		assignments = append(assignments, resourceGroupCapabilities{
			capabilities: value.List(),
			groupNames:   names,
		})
	}

	return capabilitiesForGroups(assignments, groupNames), nil
}

// HasGroupRegistrationForm implements the perun.Adapter interface.
func (a *RPCAdapter) HasGroupRegistrationForm(ctx context.Context, groupID int64) (bool, error) {
	var form struct {
		ID int64 `json:"id"`
	}
	err := a.call(ctx, rpcRegistrarManager, "getApplicationForm", map[string]interface{}{
		"group": groupID,
	}, &form)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("perun rpc backend get group application form error: %w", err)
	}

	return true, nil
}

// HasVoRegistrationForm implements the perun.Adapter interface.
func (a *RPCAdapter) HasVoRegistrationForm(ctx context.Context, voID int64) (bool, error) {
	var form struct {
		ID int64 `json:"id"`
	}
	err := a.call(ctx, rpcRegistrarManager, "getApplicationForm", map[string]interface{}{
		"vo": voID,
	}, &form)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("perun rpc backend get vo application form error: %w", err)
	}

	return true, nil
}

func (a *RPCAdapter) getAssignedResources(ctx context.Context, facilityID int64) ([]*perun.Resource, error) {
	var resources []*perun.Resource
	err := a.call(ctx, rpcFacilitiesManager, "getAssignedResources", map[string]interface{}{
		"facility": facilityID,
	}, &resources)
	if err != nil {
		return nil, fmt.Errorf("perun rpc backend get assigned resources error: %w", err)
	}

	return resources, nil
}

func (a *RPCAdapter) getVoByID(ctx context.Context, voID int64) (*perun.Vo, error) {
	var vo perun.Vo
	err := a.call(ctx, rpcVosManager, "getVoById", map[string]interface{}{
		"id": voID,
	}, &vo)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("perun rpc backend get vo error: %w", err)
	}

	return &vo, nil
}

// fillUniqueNames resolves the unique names of the provided groups from
// their owning VO short names. The RPC interface delivers groups without
// unique names, the directory keeps them as a first class attribute.
func (a *RPCAdapter) fillUniqueNames(ctx context.Context, groups []*perun.Group) error {
	shortNames := make(map[int64]string)
	for _, group := range groups {
		if group.UniqueName != "" {
			continue
		}
		shortName, ok := shortNames[group.VoID]
		if !ok {
			vo, err := a.getVoByID(ctx, group.VoID)
			if err != nil {
				return err
			}
			if vo == nil {
				continue
			}
			shortName = vo.ShortName
			shortNames[group.VoID] = shortName
		}
		group.UniqueName = shortName + ":" + group.Name
	}

	return nil
}
