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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cesnet/perun-oidc-bridge/acr"
	"github.com/cesnet/perun-oidc-bridge/aup"
	"github.com/cesnet/perun-oidc-bridge/authz"
	"github.com/cesnet/perun-oidc-bridge/claims"
	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/hooks"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

func newBridgeTestServer(t *testing.T, ctx context.Context, adapter perun.Adapter) *Server {
	t.Helper()

	c := &config.Config{
		Logger: logger,
	}

	authzEngine, err := authz.NewEngine(c, adapter, "https://bridge.example.org/registrar/continue", "https://bridge.example.org/unapproved")
	if err != nil {
		t.Fatal(err)
	}
	aupEngine := aup.NewEngine(c, adapter, nil)

	pipeline, err := claims.NewPipeline(&claims.PipelineConfig{
		Config:  c,
		Adapter: adapter,
		UserInfoClaims: []claims.UserInfoClaimConfig{
			{Claim: "sub", Scope: "openid", Attribute: "user_login"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	acrs := acr.NewMemoryMapManager(ctx, nil)

	server, err := NewServer(&Config{
		Config: c,

		ListenAddr: "127.0.0.1:0",

		Adapter: adapter,

		RegistrarURL: "https://perun.example.org/registrar/",

		AuthzEngine: authzEngine,
		AupEngine:   aupEngine,
		Hooks:       hooks.NewHooks(c, adapter, pipeline, acrs, "https://idp.example.org/idp/"),
	})
	if err != nil {
		t.Fatal(err)
	}

	return server
}

func TestAuthorizeHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The membership check attribute of the facility is unset, access is
	// allowed without group lookups.
	adapter := &testAdapter{
		facility: &perun.Facility{ID: 5, Name: "service"},
	}
	server := newBridgeTestServer(t, ctx, adapter)

	req, err := http.NewRequest("GET", "/bridge/v1/authorize?client_id=client1&user_id=42", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	var response authorizeResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatal(err)
	}
	if got, want := response.Verdict, "allow"; got != want {
		t.Errorf("got verdict %v, want %v", got, want)
	}
	if response.RedirectURL != "" {
		t.Errorf("got redirect %v, want none", response.RedirectURL)
	}
}

func TestAuthorizeHandlerBadRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newBridgeTestServer(t, ctx, &testAdapter{})

	req, err := http.NewRequest("GET", "/bridge/v1/authorize?client_id=client1", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestAupsToApproveHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newBridgeTestServer(t, ctx, &testAdapter{})

	req, err := http.NewRequest("GET", "/bridge/v1/aups?facility_id=5&user_id=42", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	var aups map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&aups); err != nil {
		t.Fatal(err)
	}
	if len(aups) != 0 {
		t.Errorf("got %v, want no pending aups", aups)
	}

	req, err = http.NewRequest("GET", "/bridge/v1/aups?facility_id=5", nil)
	if err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	server.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestUserInfoHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := &testAdapter{
		user: &perun.User{ID: 7, FirstName: "Jan", LastName: "Novak"},
		userAttributes: map[string]perun.AttributeValue{
			"user_login": perun.NewStringValue("novak@cesnet.cz"),
		},
	}
	server := newBridgeTestServer(t, ctx, adapter)

	req, err := http.NewRequest("GET", "/bridge/v1/userinfo?username=novak@cesnet.cz", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	var produced map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&produced); err != nil {
		t.Fatal(err)
	}
	if got, want := produced["sub"], "novak@cesnet.cz"; got != want {
		t.Errorf("got sub %v, want %v", got, want)
	}
}

func TestUserInfoHandlerUnknownUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newBridgeTestServer(t, ctx, &testAdapter{})

	req, err := http.NewRequest("GET", "/bridge/v1/userinfo?username=unknown", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}
}

func TestBridgeEndpointsStayUnregisteredWithoutEngines(t *testing.T) {
	server := newTestServer(t, &testAdapter{})

	req, err := http.NewRequest("GET", "/bridge/v1/authorize?client_id=client1&user_id=42", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}
}
