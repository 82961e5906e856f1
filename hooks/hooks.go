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

// Package hooks implements the callbacks the host OIDC engine invokes
// during token issuance and userinfo handling. The hooks resolve Perun
// users and delegate claim assembly to the claims pipeline.
package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/acr"
	"github.com/cesnet/perun-oidc-bridge/claims"
	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/oidcx"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// ErrUserNotFound is returned by hook lookups when the provided login does
// not resolve to a Perun user.
var ErrUserNotFound = errors.New("user not found")

// TokenEnhancer is invoked by the host engine while issuing access tokens.
type TokenEnhancer interface {
	EnhanceAccessTokenClaims(ctx context.Context, tokenClaims *oidcx.AccessTokenClaims, clientID string, acrValues string, state string) error
}

// IDTokenClaimsHook is invoked by the host engine while constructing ID
// tokens, with access to the token's authorized scopes and client.
type IDTokenClaimsHook interface {
	IDTokenClaims(ctx context.Context, tokenClaims *oidcx.AccessTokenClaims, clientID string) (map[string]interface{}, error)
}

// UserInfoLookup is invoked by the host engine's userinfo endpoint and by
// the claims hooks themselves.
type UserInfoLookup interface {
	ByUsername(ctx context.Context, username string) (map[string]interface{}, error)
	ByUsernameAndClientID(ctx context.Context, username string, clientID string, scopes map[string]bool) (map[string]interface{}, error)
}

// Hooks implements TokenEnhancer, IDTokenClaimsHook and UserInfoLookup on
// top of the claims pipeline and the ACR store.
type Hooks struct {
	adapter  perun.Adapter
	pipeline *claims.Pipeline
	acrs     acr.Manager

	extSourceName string

	logger logrus.FieldLogger
}

// NewHooks creates hook implementations resolving logins through the
// provided adapter within the provided ext source.
func NewHooks(c *config.Config, adapter perun.Adapter, pipeline *claims.Pipeline, acrs acr.Manager, extSourceName string) *Hooks {
	return &Hooks{
		adapter:  adapter,
		pipeline: pipeline,
		acrs:     acrs,

		extSourceName: extSourceName,

		logger: c.Logger,
	}
}

func (h *Hooks) resolveUser(ctx context.Context, username string) (*perun.User, error) {
	user, err := h.adapter.GetPerunUser(ctx, h.extSourceName, username)
	if err != nil {
		return nil, fmt.Errorf("hooks: user lookup failed: %v", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// EnhanceAccessTokenClaims implements the TokenEnhancer interface. It binds
// the Perun user ID to the token and replays the ACR recorded for the
// authorize request the token originates from.
func (h *Hooks) EnhanceAccessTokenClaims(ctx context.Context, tokenClaims *oidcx.AccessTokenClaims, clientID string, acrValues string, state string) error {
	if tokenClaims.UserID == 0 {
		user, err := h.resolveUser(ctx, tokenClaims.Subject)
		if err != nil {
			return err
		}
		tokenClaims.UserID = user.ID
	}

	record, err := h.acrs.Get(ctx, tokenClaims.Subject, clientID, acrValues, state)
	if err != nil {
		return fmt.Errorf("hooks: acr lookup failed: %v", err)
	}
	if record != nil {
		tokenClaims.Acr = record.Acr
	}

	return nil
}

// IDTokenClaims implements the IDTokenClaimsHook interface.
func (h *Hooks) IDTokenClaims(ctx context.Context, tokenClaims *oidcx.AccessTokenClaims, clientID string) (map[string]interface{}, error) {
	userID := tokenClaims.UserID
	if userID == 0 {
		user, err := h.resolveUser(ctx, tokenClaims.Subject)
		if err != nil {
			return nil, err
		}
		userID = user.ID
	}

	produced, err := h.pipeline.IDTokenClaims(ctx, userID, clientID, tokenClaims.AuthorizedScopes())
	if err != nil {
		return nil, err
	}
	if tokenClaims.Acr != "" {
		produced[oidcx.AcrClaim] = tokenClaims.Acr
	}

	return produced, nil
}

// ByUsername implements the UserInfoLookup interface.
func (h *Hooks) ByUsername(ctx context.Context, username string) (map[string]interface{}, error) {
	user, err := h.resolveUser(ctx, username)
	if err != nil {
		return nil, err
	}

	return h.pipeline.UserInfo(ctx, user.ID)
}

// ByUsernameAndClientID implements the UserInfoLookup interface.
func (h *Hooks) ByUsernameAndClientID(ctx context.Context, username string, clientID string, scopes map[string]bool) (map[string]interface{}, error) {
	user, err := h.resolveUser(ctx, username)
	if err != nil {
		return nil, err
	}

	return h.pipeline.ClaimsForClient(ctx, user.ID, clientID, scopes)
}
