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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

func newRPCTestRegistry(t *testing.T) *perun.MappingRegistry {
	t.Helper()

	registry, err := perun.NewMappingRegistry(testLogger, []*perun.AttributeMapping{
		{Identifier: "facility_client_id", RPCName: "urn:perun:facility:attribute-def:def:OIDCClientID", Type: perun.TypeString},
		{Identifier: "user_display_name", RPCName: "urn:perun:user:attribute-def:core:displayName", Type: perun.TypeString},
		{Identifier: "user_is_admin", RPCName: "urn:perun:user:attribute-def:def:isAdmin", Type: perun.TypeBoolean},
		{Identifier: "user_mail_aliases", RPCName: "urn:perun:user:attribute-def:def:mailAliases", Type: perun.TypeArray},
	})
	if err != nil {
		t.Fatal(err)
	}

	return registry
}

func newRPCTestAdapter(t *testing.T, handler http.Handler) (*RPCAdapter, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewRPCAdapter(&config.Config{
		Logger: testLogger,
	}, newRPCTestRegistry(t), server.URL, "bridge", "secret", "facility_client_id")
	if err != nil {
		t.Fatal(err)
	}

	return adapter, server
}

func TestRPCAdapterCall(t *testing.T) {
	ctx := context.Background()

	var gotPath string
	var gotAuth bool
	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		username, password, ok := req.BasicAuth()
		gotAuth = ok && username == "bridge" && password == "secret"

		json.NewEncoder(rw).Encode(&perun.User{ID: 42, FirstName: "Jan", LastName: "Novak"})
	}))

	user, err := adapter.GetPerunUser(ctx, "https://idp.example.org/idp/", "jnovak@example.org")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := gotPath, "/json/usersManager/getUserByExtSourceNameAndExtLogin"; got != want {
		t.Errorf("got path %v, want %v", got, want)
	}
	if !gotAuth {
		t.Error("request carried no valid basic auth")
	}
	if user == nil || user.ID != 42 {
		t.Fatalf("got %v, want user 42", user)
	}
	if got, want := user.Name(), "Jan Novak"; got != want {
		t.Errorf("got name %v, want %v", got, want)
	}
}

func TestRPCAdapterUserNotFound(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{
			"name":    "UserExtSourceNotExistsException",
			"message": "no such user",
		})
	}))

	user, err := adapter.GetPerunUser(ctx, "https://idp.example.org/idp/", "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if user != nil {
		t.Errorf("got %v, want nil user", user)
	}
}

func TestRPCAdapterRPCError(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(rw).Encode(map[string]string{
			"name":    "InternalErrorException",
			"message": "something broke",
		})
	}))

	_, err := adapter.GetUserGroups(ctx, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("got %v, want RPCError", err)
	}
	if got, want := rpcErr.Status, http.StatusInternalServerError; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
}

func TestRPCAdapterUnavailable(t *testing.T) {
	ctx := context.Background()

	adapter, server := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {}))
	server.Close()

	_, err := adapter.GetPerunUser(ctx, "idp", "login")
	var unavailableErr *perun.BackendUnavailableError
	if !errors.As(err, &unavailableErr) {
		t.Fatalf("got %v, want BackendUnavailableError", err)
	}
	if !unavailableErr.Temporary() {
		t.Error("unavailable error is not temporary")
	}
}

func TestRPCAdapterGetUserAttributeValues(t *testing.T) {
	ctx := context.Background()

	var calls int
	var gotAttrNames []interface{}
	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		calls++
		var params map[string]interface{}
		json.NewDecoder(req.Body).Decode(&params)
		gotAttrNames, _ = params["attrNames"].([]interface{})

		// isAdmin is absent on purpose, mailAliases arrives as a list.
		json.NewEncoder(rw).Encode([]map[string]interface{}{
			{"name": "urn:perun:user:attribute-def:core:displayName", "value": "Jan Novak"},
			{"name": "urn:perun:user:attribute-def:def:mailAliases", "value": []string{"jan@example.org"}},
		})
	}))

	values, err := adapter.GetUserAttributeValues(ctx, 42, []string{"user_display_name", "user_is_admin", "user_mail_aliases", "no_such_attribute"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("got %v backend calls, want 1", calls)
	}
	if got, want := len(gotAttrNames), 3; got != want {
		t.Errorf("got %v requested attribute names, want %v", got, want)
	}

	if got, want := values["user_display_name"].String(), "Jan Novak"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Absent attributes read as the typed null defaults.
	isAdmin := values["user_is_admin"]
	if !isAdmin.IsNull() || isAdmin.Bool() != false {
		t.Errorf("got %v, want null boolean reading false", isAdmin)
	}
	if got, want := values["user_mail_aliases"].List(), []string{"jan@example.org"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// Unknown identifiers are dropped from the batch.
	if _, ok := values["no_such_attribute"]; ok {
		t.Error("unknown identifier was not dropped")
	}
}

func TestRPCAdapterGetAttributeNotFoundReadsNull(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusNotFound)
		json.NewEncoder(rw).Encode(map[string]string{
			"name":    "AttributeNotExistsException",
			"message": "no such attribute",
		})
	}))

	value, err := adapter.GetUserAttributeValue(ctx, 42, "user_is_admin")
	if err != nil {
		t.Fatal(err)
	}
	if !value.IsNull() {
		t.Errorf("got %v, want null", value)
	}
	if value.Bool() != false {
		t.Error("null boolean did not read false")
	}
}

func TestRPCAdapterGetAttributeUnknownIdentifierFailsFast(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		t.Error("backend was called for an unknown identifier")
	}))

	_, err := adapter.GetUserAttributeValue(ctx, 42, "no_such_attribute")
	var unknownErr *perun.UnknownAttributeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("got %v, want UnknownAttributeError", err)
	}
}

func TestRPCAdapterGetFacilityByClientID(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		var params map[string]interface{}
		json.NewDecoder(req.Body).Decode(&params)
		if got, want := params["attributeName"], "urn:perun:facility:attribute-def:def:OIDCClientID"; got != want {
			t.Errorf("got attributeName %v, want %v", got, want)
		}
		json.NewEncoder(rw).Encode([]*perun.Facility{{ID: 5, Name: "service"}})
	}))

	facility, err := adapter.GetFacilityByClientID(ctx, "client1")
	if err != nil {
		t.Fatal(err)
	}
	if facility == nil || facility.ID != 5 {
		t.Fatalf("got %v, want facility 5", facility)
	}
}

func TestRPCAdapterGetUserGroupsFillsUniqueNames(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/json/usersManager/getGroupsWhereUserIsActive":
			json.NewEncoder(rw).Encode([]map[string]interface{}{
				{"id": 10, "name": "members", "voId": 1},
				{"id": 11, "name": "researchers", "voId": 1},
			})
		case "/json/vosManager/getVoById":
			json.NewEncoder(rw).Encode(map[string]interface{}{
				"id": 1, "name": "Virtual Organization 1", "shortName": "vo1",
			})
		default:
			t.Errorf("unexpected request %v", req.URL.Path)
		}
	}))

	groups, err := adapter.GetUserGroups(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(groups), 2; got != want {
		t.Fatalf("got %v groups, want %v", got, want)
	}
	if got, want := groups[0].UniqueName, "vo1:members"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The members group unique name reads as the plain VO short name.
	if got, want := groups[0].UniqueGroupName(), "vo1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := groups[1].UniqueGroupName(), "vo1:researchers"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRPCAdapterResourceCapabilities(t *testing.T) {
	ctx := context.Background()

	registry, err := perun.NewMappingRegistry(testLogger, []*perun.AttributeMapping{
		{Identifier: "facility_client_id", RPCName: "urn:perun:facility:attribute-def:def:OIDCClientID", Type: perun.TypeString},
		{Identifier: perun.AttrResourceCapabilities, RPCName: "urn:perun:resource:attribute-def:def:capabilities", Type: perun.TypeArray},
	})
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/json/facilitiesManager/getAssignedResources":
			json.NewEncoder(rw).Encode([]map[string]interface{}{
				{"id": 100, "voId": 1, "facilityId": 5},
			})
		case "/json/attributesManager/getAttribute":
			json.NewEncoder(rw).Encode(map[string]interface{}{
				"name":  "urn:perun:resource:attribute-def:def:capabilities",
				"value": []string{"c1", "c2"},
			})
		case "/json/resourcesManager/getAssignedGroups":
			json.NewEncoder(rw).Encode([]map[string]interface{}{
				{"id": 10, "name": "members", "voId": 1},
			})
		case "/json/vosManager/getVoById":
			json.NewEncoder(rw).Encode(map[string]interface{}{
				"id": 1, "shortName": "vo1",
			})
		default:
			t.Errorf("unexpected request %v", req.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	adapter, err := NewRPCAdapter(&config.Config{
		Logger: testLogger,
	}, registry, server.URL, "bridge", "secret", "facility_client_id")
	if err != nil {
		t.Fatal(err)
	}

	// The members group of vo1 is assigned to the resource, the user's
	// resolved group name set contains "vo1".
	capabilities, err := adapter.GetResourceCapabilities(ctx, 5, []string{"vo1"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c1", "c2"}
	if !reflect.DeepEqual(capabilities, want) {
		t.Errorf("got %v, want %v", capabilities, want)
	}
}

func TestRPCAdapterFacilityCapabilitiesUnmappedWarns(t *testing.T) {
	ctx := context.Background()

	logger, hook := logrustest.NewNullLogger()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		t.Error("backend was called for an unmapped capabilities attribute")
	}))
	t.Cleanup(server.Close)

	// The registry carries no mapping for the capabilities attribute, the
	// adapter resolves no capabilities but must say so in the log.
	adapter, err := NewRPCAdapter(&config.Config{
		Logger: logger,
	}, newRPCTestRegistry(t), server.URL, "bridge", "secret", "facility_client_id")
	if err != nil {
		t.Fatal(err)
	}

	capabilities, err := adapter.GetFacilityCapabilities(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(capabilities) != 0 {
		t.Errorf("got %v, want no capabilities", capabilities)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatal("no warning was logged")
	}
	if got, want := entry.Data["attribute"], perun.AttrFacilityCapabilities; got != want {
		t.Errorf("got logged attribute %v, want %v", got, want)
	}
}

func TestRPCAdapterHasVoRegistrationForm(t *testing.T) {
	ctx := context.Background()

	adapter, _ := newRPCTestAdapter(t, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		var params map[string]interface{}
		json.NewDecoder(req.Body).Decode(&params)
		if _, ok := params["vo"]; !ok {
			rw.WriteHeader(http.StatusNotFound)
			json.NewEncoder(rw).Encode(map[string]string{"name": "FormNotExistsException"})
			return
		}
		json.NewEncoder(rw).Encode(map[string]interface{}{"id": 77})
	}))

	has, err := adapter.HasVoRegistrationForm(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("got false, want true")
	}

	has, err = adapter.HasGroupRegistrationForm(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("got true, want false")
	}
}
