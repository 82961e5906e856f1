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

// Package oidcx holds the OIDC vocabulary shared between the claims pipeline
// and the host OIDC engine hooks.
package oidcx

import (
	"errors"

	"github.com/dgrijalva/jwt-go"
)

// Standard OIDC scopes consumed by the pipeline.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// Standard OIDC claims produced by the pipeline.
const (
	SubjectClaim    = "sub"
	NameClaim       = "name"
	GivenNameClaim  = "given_name"
	FamilyNameClaim = "family_name"
	MiddleNameClaim = "middle_name"
	EmailClaim      = "email"
)

// Bridge specific access token claims.
const (
	AuthorizedScopesClaim = "perun.authorizedScopes"
	UserIDClaim           = "perun.userId"
	AcrClaim              = "acr"
)

// AccessTokenClaims define the bridge claims found in access tokens handed
// to the token enhancement hook by the host OIDC engine.
type AccessTokenClaims struct {
	AuthorizedScopesList []string `json:"perun.authorizedScopes"`
	UserID               int64    `json:"perun.userId"`
	Acr                  string   `json:"acr,omitempty"`
	jwt.StandardClaims
}

// Valid implements the jwt.Claims interface.
func (c AccessTokenClaims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if c.Subject == "" {
		return errors.New("sub claim not valid")
	}
	return nil
}

// AuthorizedScopes returns a map with scope keys and true value of all
// scopes set in the accociated access token.
func (c AccessTokenClaims) AuthorizedScopes() map[string]bool {
	authorizedScopes := make(map[string]bool)
	for _, scope := range c.AuthorizedScopesList {
		authorizedScopes[scope] = true
	}

	return authorizedScopes
}
