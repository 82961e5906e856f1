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
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/ldap.v2"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
	ldapDefinitions "github.com/cesnet/perun-oidc-bridge/perun/backends/ldap"
)

const ldapAdapterName = "perun-ldap"

// LDAPAdapter implements the perun.Adapter interface against the Perun
// directory tree. Operations the directory schema cannot express return
// ErrNotInDirectory, the fallback adapter delegates those to the RPC
// adapter.
type LDAPAdapter struct {
	baseDN       string
	peopleBaseDN string

	registry     *perun.MappingRegistry
	clientIDAttr string

	pool    *ldapConnPool
	timeout int

	// search issues one directory search. Set to poolSearch on
	// construction, tests swap in a fake directory.
	search searchFunc

	logger logrus.FieldLogger
}

type searchFunc func(ctx context.Context, baseDN string, scope int, filter string, attributes []string, sizeLimit int) ([]*ldap.Entry, error)

// NewLDAPAdapter creates a new LDAPAdapter with the provided parameters.
func NewLDAPAdapter(c *config.Config, registry *perun.MappingRegistry, tlsConfig *tls.Config, uriString, bindDN, bindPassword, baseDN, clientIDAttr string, poolSize int) (*LDAPAdapter, error) {
	var err error
	for {
		if uriString == "" {
			err = fmt.Errorf("server must not be empty")
			break
		}
		if bindDN == "" && bindPassword != "" {
			err = fmt.Errorf("bind DN must not be empty when bind password is given")
			break
		}
		if baseDN == "" {
			err = fmt.Errorf("base DN must not be empty")
			break
		}
		if clientIDAttr == "" {
			err = fmt.Errorf("client ID attribute must not be empty")
			break
		}
		if _, err = registry.Get(clientIDAttr); err != nil {
			break
		}

		break
	}
	if err != nil {
		return nil, fmt.Errorf("perun ldap backend %v", err)
	}

	uri, err := url.Parse(uriString)
	if err != nil {
		return nil, fmt.Errorf("perun ldap backend %v", err)
	}

	addr := uri.Host
	isTLS := false
	switch uri.Scheme {
	case "":
		uri.Scheme = "ldap"
		fallthrough
	case "ldap":
		if uri.Port() == "" {
			addr += ":389"
		}
	case "ldaps":
		if uri.Port() == "" {
			addr += ":636"
		}
		isTLS = true
	default:
		return nil, fmt.Errorf("perun ldap backend invalid URI scheme: %v", uri.Scheme)
	}

	a := &LDAPAdapter{
		baseDN:       baseDN,
		peopleBaseDN: "ou=People," + baseDN,

		registry:     registry,
		clientIDAttr: clientIDAttr,

		pool:    newLDAPConnPool(addr, isTLS, bindDN, bindPassword, tlsConfig, poolSize, 60*time.Second),
		timeout: 60,

		logger: c.Logger,
	}
	a.search = a.poolSearch

	a.logger.WithField("ldap", fmt.Sprintf("%s://%s ", uri.Scheme, addr)).Infoln("perun ldap backend set up")

	return a, nil
}

// Name implements the perun.Adapter interface.
func (a *LDAPAdapter) Name() string {
	return ldapAdapterName
}

// Close releases all pooled directory connections.
func (a *LDAPAdapter) Close() {
	a.pool.close()
}

func (a *LDAPAdapter) poolSearch(ctx context.Context, baseDN string, scope int, filter string, attributes []string, sizeLimit int) ([]*ldap.Entry, error) {
	l, err := a.pool.borrow(ctx)
	if err != nil {
		return nil, &perun.BackendUnavailableError{Backend: ldapAdapterName, Err: err}
	}

	request := ldap.NewSearchRequest(
		baseDN,
		scope, ldap.NeverDerefAliases, sizeLimit, a.timeout, false,
		filter,
		attributes,
		nil,
	)
	sr, err := l.Search(request)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			a.pool.release(l, false)
			return nil, nil
		}
		broken := ldap.IsErrorWithCode(err, ldap.ErrorNetwork)
		a.pool.release(l, broken)
		if broken {
			return nil, &perun.BackendUnavailableError{Backend: ldapAdapterName, Err: err}
		}
		return nil, fmt.Errorf("perun ldap backend search error: %v", err)
	}
	a.pool.release(l, false)

	return sr.Entries, nil
}

// escapeFilter escapes special characters of the provided filter assertion
// value as defined by RFC 4515.
func escapeFilter(value string) string {
	var b strings.Builder
	for _, c := range []byte(value) {
		switch c {
		case '(', ')', '*', '\\', 0:
			fmt.Fprintf(&b, "\\%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func eq(attribute, value string) string {
	return fmt.Sprintf("(%s=%s)", attribute, escapeFilter(value))
}

func and(filters ...string) string {
	return "(&" + strings.Join(filters, "") + ")"
}

func or(filters ...string) string {
	if len(filters) == 1 {
		return filters[0]
	}
	return "(|" + strings.Join(filters, "") + ")"
}

// entryValues returns the values of the named entry attribute. Attribute
// descriptors are case insensitive, the client library case folds returned
// names.
func entryValues(entry *ldap.Entry, name string) []string {
	for _, attribute := range entry.Attributes {
		if strings.EqualFold(attribute.Name, name) {
			return attribute.Values
		}
	}
	return nil
}

func entryValue(entry *ldap.Entry, name string) string {
	values := entryValues(entry, name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func entryID(entry *ldap.Entry, name string) int64 {
	id, _ := strconv.ParseInt(entryValue(entry, name), 10, 64)
	return id
}

// GetPerunUser implements the perun.Adapter interface. The directory keys
// principals by their scoped principal names, the external source name is
// implied by the scope of the login value.
func (a *LDAPAdapter) GetPerunUser(ctx context.Context, extSourceName string, extLogin string) (*perun.User, error) {
	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassUser),
		eq(ldapDefinitions.AttributeEduPersonPN, extLogin),
	)
	entries, err := a.search(ctx, a.peopleBaseDN, ldap.ScopeSingleLevel, filter, []string{
		ldapDefinitions.AttributePerunUserID,
		ldapDefinitions.AttributeGivenName,
		ldapDefinitions.AttributeSN,
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	entry := entries[0]
	return &perun.User{
		ID:        entryID(entry, ldapDefinitions.AttributePerunUserID),
		FirstName: entryValue(entry, ldapDefinitions.AttributeGivenName),
		LastName:  entryValue(entry, ldapDefinitions.AttributeSN),
	}, nil
}

// GetFacilityByClientID implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityByClientID(ctx context.Context, clientID string) (*perun.Facility, error) {
	mapping, err := a.registry.Get(a.clientIDAttr)
	if err != nil {
		return nil, err
	}
	if mapping.LDAPName == "" {
		return nil, ErrNotInDirectory
	}

	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassFacility),
		eq(mapping.LDAPName, clientID),
	)
	entries, err := a.search(ctx, a.baseDN, ldap.ScopeSingleLevel, filter, []string{
		ldapDefinitions.AttributeFacilityID,
		ldapDefinitions.AttributeCN,
		ldapDefinitions.AttributeDescription,
	}, 2)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > 1 {
		a.logger.WithField("client_id", clientID).Warnln("perun ldap backend multiple facilities for client, using first")
	}

	entry := entries[0]
	return &perun.Facility{
		ID:          entryID(entry, ldapDefinitions.AttributeFacilityID),
		Name:        entryValue(entry, ldapDefinitions.AttributeCN),
		Description: entryValue(entry, ldapDefinitions.AttributeDescription),
	}, nil
}

// getEntityEntry fetches the directory entry of one entity together with the
// directory names of the provided mappings.
func (a *LDAPAdapter) getEntityEntry(ctx context.Context, objectClass, idAttribute, baseDN string, scope int, entityID int64, ldapNames []string) (*ldap.Entry, error) {
	filter := and(
		eq("objectClass", objectClass),
		eq(idAttribute, strconv.FormatInt(entityID, 10)),
	)
	entries, err := a.search(ctx, baseDN, scope, filter, ldapNames, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// getAttributes is the shared batch fetch. When any requested mapping has no
// directory name the whole batch is not expressible as a single directory
// call and ErrNotInDirectory is returned, keeping the one-call batching
// guarantee intact through the fallback.
func (a *LDAPAdapter) getAttributes(ctx context.Context, objectClass, idAttribute, baseDN string, scope int, entityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	mappings := a.registry.GetBatch(identifiers)
	ldapNames := make([]string, 0, len(mappings))
	for _, mapping := range mappings {
		if mapping.LDAPName == "" {
			return nil, ErrNotInDirectory
		}
		ldapNames = append(ldapNames, mapping.LDAPName)
	}

	values := make(map[string]perun.AttributeValue, len(mappings))
	if len(mappings) == 0 {
		return values, nil
	}

	entry, err := a.getEntityEntry(ctx, objectClass, idAttribute, baseDN, scope, entityID, ldapNames)
	if err != nil {
		return nil, err
	}

	for _, mapping := range mappings {
		var raw []string
		if entry != nil {
			raw = entryValues(entry, mapping.LDAPName)
		}
		value, err := perun.ParseStringValues(mapping, raw)
		if err != nil {
			return nil, err
		}
		values[mapping.Identifier] = value
	}

	return values, nil
}

func (a *LDAPAdapter) getAttribute(ctx context.Context, objectClass, idAttribute, baseDN string, scope int, entityID int64, identifier string) (perun.AttributeValue, error) {
	mapping, err := a.registry.Get(identifier)
	if err != nil {
		return perun.AttributeValue{}, err
	}
	if mapping.LDAPName == "" {
		return perun.AttributeValue{}, ErrNotInDirectory
	}

	entry, err := a.getEntityEntry(ctx, objectClass, idAttribute, baseDN, scope, entityID, []string{mapping.LDAPName})
	if err != nil {
		return perun.AttributeValue{}, err
	}

	var raw []string
	if entry != nil {
		raw = entryValues(entry, mapping.LDAPName)
	}
	return perun.ParseStringValues(mapping, raw)
}

// GetUserAttributeValue implements the perun.Adapter interface.
func (a *LDAPAdapter) GetUserAttributeValue(ctx context.Context, userID int64, identifier string) (perun.AttributeValue, error) {
	return a.getAttribute(ctx, ldapDefinitions.ObjectClassUser, ldapDefinitions.AttributePerunUserID, a.peopleBaseDN, ldap.ScopeSingleLevel, userID, identifier)
}

// GetUserAttributeValues implements the perun.Adapter interface.
func (a *LDAPAdapter) GetUserAttributeValues(ctx context.Context, userID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, ldapDefinitions.ObjectClassUser, ldapDefinitions.AttributePerunUserID, a.peopleBaseDN, ldap.ScopeSingleLevel, userID, identifiers)
}

// GetFacilityAttributeValue implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityAttributeValue(ctx context.Context, facilityID int64, identifier string) (perun.AttributeValue, error) {
	return a.getAttribute(ctx, ldapDefinitions.ObjectClassFacility, ldapDefinitions.AttributeFacilityID, a.baseDN, ldap.ScopeSingleLevel, facilityID, identifier)
}

// GetFacilityAttributeValues implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityAttributeValues(ctx context.Context, facilityID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, ldapDefinitions.ObjectClassFacility, ldapDefinitions.AttributeFacilityID, a.baseDN, ldap.ScopeSingleLevel, facilityID, identifiers)
}

// GetVoAttributeValues implements the perun.Adapter interface.
func (a *LDAPAdapter) GetVoAttributeValues(ctx context.Context, voID int64, identifiers []string) (map[string]perun.AttributeValue, error) {
	return a.getAttributes(ctx, ldapDefinitions.ObjectClassVo, ldapDefinitions.AttributePerunVoID, a.baseDN, ldap.ScopeSingleLevel, voID, identifiers)
}

// GetEntitylessAttribute implements the perun.Adapter interface. The
// directory tree does not hold entity-less attributes.
func (a *LDAPAdapter) GetEntitylessAttribute(ctx context.Context, identifier string) (map[string]string, error) {
	return nil, ErrNotInDirectory
}

// SetUserAttribute implements the perun.Adapter interface. The directory
// tree is a read only replica, writes go through RPC.
func (a *LDAPAdapter) SetUserAttribute(ctx context.Context, userID int64, identifier string, value perun.AttributeValue) error {
	return ErrNotInDirectory
}

// GetUserGroups implements the perun.Adapter interface. The directory only
// lists groups of valid members in memberOf, so the active membership
// constraint holds by construction.
func (a *LDAPAdapter) GetUserGroups(ctx context.Context, userID int64) ([]*perun.Group, error) {
	entry, err := a.getEntityEntry(ctx, ldapDefinitions.ObjectClassUser, ldapDefinitions.AttributePerunUserID, a.peopleBaseDN, ldap.ScopeSingleLevel, userID, []string{ldapDefinitions.AttributeMemberOf})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	groupIDs := make([]int64, 0)
	for _, dn := range entryValues(entry, ldapDefinitions.AttributeMemberOf) {
		id, ok := groupIDFromDN(dn)
		if !ok {
			a.logger.WithField("dn", dn).Debugln("perun ldap backend skipping unparseable memberOf value")
			continue
		}
		groupIDs = append(groupIDs, id)
	}

	return a.getGroupsByIDs(ctx, groupIDs)
}

// groupIDFromDN extracts the group ID of a group DN of the form
// "perunGroupId=N,perunVoId=M,...".
func groupIDFromDN(dn string) (int64, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return 0, false
	}
	for _, attribute := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(attribute.Type, ldapDefinitions.AttributePerunGroupID) {
			id, err := strconv.ParseInt(attribute.Value, 10, 64)
			if err != nil {
				return 0, false
			}
			return id, true
		}
	}
	return 0, false
}

func (a *LDAPAdapter) getGroupsByIDs(ctx context.Context, groupIDs []int64) ([]*perun.Group, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	idFilters := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		idFilters = append(idFilters, eq(ldapDefinitions.AttributePerunGroupID, strconv.FormatInt(id, 10)))
	}
	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassGroup),
		or(idFilters...),
	)

	entries, err := a.search(ctx, a.baseDN, ldap.ScopeWholeSubtree, filter, []string{
		ldapDefinitions.AttributePerunGroupID,
		ldapDefinitions.AttributePerunVoID,
		ldapDefinitions.AttributeParentGroupID,
		ldapDefinitions.AttributeCN,
		ldapDefinitions.AttributeUniqueName,
		ldapDefinitions.AttributeDescription,
	}, 0)
	if err != nil {
		return nil, err
	}

	groups := make([]*perun.Group, 0, len(entries))
	for _, entry := range entries {
		groups = append(groups, entryToGroup(entry))
	}

	return groups, nil
}

func entryToGroup(entry *ldap.Entry) *perun.Group {
	return &perun.Group{
		ID:            entryID(entry, ldapDefinitions.AttributePerunGroupID),
		Name:          entryValue(entry, ldapDefinitions.AttributeCN),
		Description:   entryValue(entry, ldapDefinitions.AttributeDescription),
		UniqueName:    entryValue(entry, ldapDefinitions.AttributeUniqueName),
		ParentGroupID: entryID(entry, ldapDefinitions.AttributeParentGroupID),
		VoID:          entryID(entry, ldapDefinitions.AttributePerunVoID),
	}
}

// facilityResources fetches the resource entries of the provided facility
// with the provided attributes.
func (a *LDAPAdapter) facilityResources(ctx context.Context, facilityID int64, attributes []string) ([]*ldap.Entry, error) {
	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassResource),
		eq(ldapDefinitions.AttributeFacilityID, strconv.FormatInt(facilityID, 10)),
	)
	return a.search(ctx, a.baseDN, ldap.ScopeWholeSubtree, filter, attributes, 0)
}

// GetFacilityGroups implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityGroups(ctx context.Context, facilityID int64) ([]*perun.Group, error) {
	resources, err := a.facilityResources(ctx, facilityID, []string{ldapDefinitions.AttributeAssignedGroup})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	groupIDs := make([]int64, 0)
	for _, resource := range resources {
		for _, raw := range entryValues(resource, ldapDefinitions.AttributeAssignedGroup) {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			groupIDs = append(groupIDs, id)
		}
	}

	return a.getGroupsByIDs(ctx, groupIDs)
}

// GetFacilityVos implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityVos(ctx context.Context, facilityID int64) ([]*perun.Vo, error) {
	resources, err := a.facilityResources(ctx, facilityID, []string{ldapDefinitions.AttributePerunVoID})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	voFilters := make([]string, 0)
	for _, resource := range resources {
		id := entryID(resource, ldapDefinitions.AttributePerunVoID)
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		voFilters = append(voFilters, eq(ldapDefinitions.AttributePerunVoID, strconv.FormatInt(id, 10)))
	}
	if len(voFilters) == 0 {
		return nil, nil
	}

	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassVo),
		or(voFilters...),
	)
	entries, err := a.search(ctx, a.baseDN, ldap.ScopeSingleLevel, filter, []string{
		ldapDefinitions.AttributePerunVoID,
		ldapDefinitions.AttributeO,
		ldapDefinitions.AttributeDescription,
	}, 0)
	if err != nil {
		return nil, err
	}

	vos := make([]*perun.Vo, 0, len(entries))
	for _, entry := range entries {
		vos = append(vos, entryToVo(entry))
	}

	return vos, nil
}

func entryToVo(entry *ldap.Entry) *perun.Vo {
	return &perun.Vo{
		ID:        entryID(entry, ldapDefinitions.AttributePerunVoID),
		Name:      entryValue(entry, ldapDefinitions.AttributeDescription),
		ShortName: entryValue(entry, ldapDefinitions.AttributeO),
	}
}

// GetVoByShortName implements the perun.Adapter interface.
func (a *LDAPAdapter) GetVoByShortName(ctx context.Context, shortName string) (*perun.Vo, error) {
	filter := and(
		eq("objectClass", ldapDefinitions.ObjectClassVo),
		eq(ldapDefinitions.AttributeO, shortName),
	)
	entries, err := a.search(ctx, a.baseDN, ldap.ScopeSingleLevel, filter, []string{
		ldapDefinitions.AttributePerunVoID,
		ldapDefinitions.AttributeO,
		ldapDefinitions.AttributeDescription,
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	return entryToVo(entries[0]), nil
}

// GetFacilityCapabilities implements the perun.Adapter interface.
func (a *LDAPAdapter) GetFacilityCapabilities(ctx context.Context, facilityID int64) ([]string, error) {
	entry, err := a.getEntityEntry(ctx, ldapDefinitions.ObjectClassFacility, ldapDefinitions.AttributeFacilityID, a.baseDN, ldap.ScopeSingleLevel, facilityID, []string{ldapDefinitions.AttributeCapabilities})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return []string{}, nil
	}

	capabilities := entryValues(entry, ldapDefinitions.AttributeCapabilities)
	if capabilities == nil {
		capabilities = []string{}
	}
	return capabilities, nil
}

// GetResourceCapabilities implements the perun.Adapter interface.
func (a *LDAPAdapter) GetResourceCapabilities(ctx context.Context, facilityID int64, groupNames []string) ([]string, error) {
	resources, err := a.facilityResources(ctx, facilityID, []string{
		ldapDefinitions.AttributeCapabilities,
		ldapDefinitions.AttributeAssignedGroup,
	})
	if err != nil {
		return nil, err
	}

	// Resolve all assigned groups of capability carrying resources in one
	// directory call.
	seen := make(map[int64]bool)
	groupIDs := make([]int64, 0)
	for _, resource := range resources {
		if len(entryValues(resource, ldapDefinitions.AttributeCapabilities)) == 0 {
			continue
		}
		for _, raw := range entryValues(resource, ldapDefinitions.AttributeAssignedGroup) {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			groupIDs = append(groupIDs, id)
		}
	}
	groups, err := a.getGroupsByIDs(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	uniqueNames := make(map[int64]string, len(groups))
	for _, group := range groups {
		uniqueNames[group.ID] = group.UniqueGroupName()
	}

	var assignments []resourceGroupCapabilities
	for _, resource := range resources {
		capabilities := entryValues(resource, ldapDefinitions.AttributeCapabilities)
		if len(capabilities) == 0 {
			continue
		}
		names := make([]string, 0)
		for _, raw := range entryValues(resource, ldapDefinitions.AttributeAssignedGroup) {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			if name, ok := uniqueNames[id]; ok {
				names = append(names, name)
			}
		}
		assignments = append(assignments, resourceGroupCapabilities{
			capabilities: capabilities,
			groupNames:   names,
		})
	}

	return capabilitiesForGroups(assignments, groupNames), nil
}

// HasGroupRegistrationForm implements the perun.Adapter interface.
// Registration forms are not replicated into the directory.
func (a *LDAPAdapter) HasGroupRegistrationForm(ctx context.Context, groupID int64) (bool, error) {
	return false, ErrNotInDirectory
}

// HasVoRegistrationForm implements the perun.Adapter interface.
func (a *LDAPAdapter) HasVoRegistrationForm(ctx context.Context, voID int64) (bool, error) {
	return false, ErrNotInDirectory
}
