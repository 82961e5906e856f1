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
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cesnet/perun-oidc-bridge/cache"
	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/oidcx"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// Default cache parameters of the two pipeline tiers. The base tier holds
// attribute derived user claims only and can live long, the client tier runs
// custom claim sources and stays short lived.
const (
	defaultCacheSize      = 2048
	defaultBaseCacheTTL   = 30 * time.Minute
	defaultClientCacheTTL = time.Minute
)

// PipelineConfig carries the construction parameters of a Pipeline.
type PipelineConfig struct {
	Config *config.Config

	Adapter     perun.Adapter
	Definitions []*Definition

	UserInfoClaims []UserInfoClaimConfig
	IDTokenScopes  []string

	CacheSize      int
	BaseCacheTTL   time.Duration
	ClientCacheTTL time.Duration

	// Clock is injected for TTL tests, nil defaults to time.Now.
	Clock func() time.Time
}

// Pipeline assembles scoped OIDC claims for (user, client) pairs from Perun
// attributes and the configured claim definitions. The two cache tiers both
// guarantee at most one concurrent computation per key.
type Pipeline struct {
	adapter     perun.Adapter
	definitions []*Definition

	userInfoClaims []UserInfoClaimConfig
	userInfoAttrs  []string
	sourceAttrs    []string
	idTokenScopes  map[string]bool

	baseCache   *cache.Cache[map[string]interface{}]
	clientCache *cache.Cache[map[string]interface{}]

	logger logrus.FieldLogger
}

// NewPipeline creates a new Pipeline from the provided configuration.
func NewPipeline(pc *PipelineConfig) (*Pipeline, error) {
	size := pc.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	baseTTL := pc.BaseCacheTTL
	if baseTTL <= 0 {
		baseTTL = defaultBaseCacheTTL
	}
	clientTTL := pc.ClientCacheTTL
	if clientTTL <= 0 {
		clientTTL = defaultClientCacheTTL
	}

	baseCache, err := cache.New[map[string]interface{}]("userinfo", size, baseTTL, pc.Clock)
	if err != nil {
		return nil, err
	}
	clientCache, err := cache.New[map[string]interface{}]("client_claims", size, clientTTL, pc.Clock)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		adapter:     pc.Adapter,
		definitions: pc.Definitions,

		userInfoClaims: pc.UserInfoClaims,
		idTokenScopes:  make(map[string]bool, len(pc.IDTokenScopes)),

		baseCache:   baseCache,
		clientCache: clientCache,

		logger: pc.Config.Logger,
	}
	for _, scope := range pc.IDTokenScopes {
		p.idTokenScopes[scope] = true
	}

	seen := make(map[string]bool)
	for _, claim := range pc.UserInfoClaims {
		if claim.Claim == "" || claim.Attribute == "" {
			return nil, fmt.Errorf("claims: user info claim requires both claim and attribute")
		}
		if !seen[claim.Attribute] {
			seen[claim.Attribute] = true
			p.userInfoAttrs = append(p.userInfoAttrs, claim.Attribute)
		}
	}
	for _, definition := range pc.Definitions {
		dependent, ok := definition.Source.(AttributeDependentSource)
		if !ok {
			continue
		}
		for _, attribute := range dependent.Attributes() {
			if !seen[attribute] {
				seen[attribute] = true
				p.sourceAttrs = append(p.sourceAttrs, attribute)
			}
		}
	}

	return p, nil
}

// UserInfo returns the attribute derived base claims of the provided user.
// Results are cached per user in the long TTL tier.
func (p *Pipeline) UserInfo(ctx context.Context, userID int64) (map[string]interface{}, error) {
	key := strconv.FormatInt(userID, 10)
	cached, err := p.baseCache.GetOrCompute(ctx, key, func(ctx context.Context) (map[string]interface{}, error) {
		return p.computeUserInfo(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	return copyClaims(cached), nil
}

func (p *Pipeline) computeUserInfo(ctx context.Context, userID int64) (map[string]interface{}, error) {
	values, err := p.adapter.GetUserAttributeValues(ctx, userID, p.userInfoAttrs)
	if err != nil {
		return nil, err
	}

	claims := make(map[string]interface{}, len(p.userInfoClaims))
	for _, userInfoClaim := range p.userInfoClaims {
		value, ok := values[userInfoClaim.Attribute]
		if !ok || value.IsNull() {
			continue
		}
		claims[userInfoClaim.Claim] = attributeClaimValue(value)
	}

	return claims, nil
}

// ClaimsForClient assembles the full claim set of the provided user for the
// provided client, running the configured custom claim sources and filtering
// by the granted scopes. Results are cached per (user, client) in the short
// TTL tier.
func (p *Pipeline) ClaimsForClient(ctx context.Context, userID int64, clientID string, grantedScopes map[string]bool) (map[string]interface{}, error) {
	key := strconv.FormatInt(userID, 10) + "|" + clientID
	produced, err := p.clientCache.GetOrCompute(ctx, key, func(ctx context.Context) (map[string]interface{}, error) {
		return p.computeClientClaims(ctx, userID, clientID)
	})
	if err != nil {
		return nil, err
	}

	return p.filterByScopes(produced, grantedScopes), nil
}

func (p *Pipeline) computeClientClaims(ctx context.Context, userID int64, clientID string) (map[string]interface{}, error) {
	claims, err := p.UserInfo(ctx, userID)
	if err != nil {
		return nil, err
	}

	attributes := map[string]perun.AttributeValue{}
	if len(p.sourceAttrs) > 0 {
		attributes, err = p.adapter.GetUserAttributeValues(ctx, userID, p.sourceAttrs)
		if err != nil {
			return nil, err
		}
	}

	subject, _ := claims[oidcx.SubjectClaim].(string)
	pctx := &ProduceContext{
		UserID:     userID,
		Subject:    subject,
		ClientID:   clientID,
		Attributes: attributes,
		Adapter:    p.adapter,
	}

	for _, definition := range p.definitions {
		value, err := definition.Source.ProduceValue(ctx, pctx)
		if err != nil {
			return nil, fmt.Errorf("claims: source for claim %s failed: %v", definition.Claim, err)
		}
		if value == nil {
			// A nil produced value omits the claim entirely.
			continue
		}
		claims[definition.Claim] = applyModifier(value, definition.Modifier)
	}

	return claims, nil
}

// IDTokenClaims returns the claim subset releasable into ID tokens, which
// may be narrower than the UserInfo response of the same request.
func (p *Pipeline) IDTokenClaims(ctx context.Context, userID int64, clientID string, grantedScopes map[string]bool) (map[string]interface{}, error) {
	produced, err := p.ClaimsForClient(ctx, userID, clientID, grantedScopes)
	if err != nil {
		return nil, err
	}

	idTokenScopes := make(map[string]bool, len(grantedScopes))
	for scope := range grantedScopes {
		if p.idTokenScopes[scope] {
			idTokenScopes[scope] = true
		}
	}

	return p.filterByScopes(produced, idTokenScopes), nil
}

// filterByScopes drops all claims whose releasing scope is not contained in
// the provided scope set.
func (p *Pipeline) filterByScopes(produced map[string]interface{}, scopes map[string]bool) map[string]interface{} {
	scopeByClaim := make(map[string]string, len(p.userInfoClaims)+len(p.definitions))
	for _, userInfoClaim := range p.userInfoClaims {
		scopeByClaim[userInfoClaim.Claim] = userInfoClaim.Scope
	}
	for _, definition := range p.definitions {
		scopeByClaim[definition.Claim] = definition.Scope
	}

	filtered := make(map[string]interface{}, len(produced))
	for claim, value := range produced {
		scope, ok := scopeByClaim[claim]
		if !ok {
			continue
		}
		if scope == oidcx.ScopeOpenID || scopes[scope] {
			filtered[claim] = value
		}
	}

	return filtered
}

// InvalidateUser drops the cached base claims of the provided user.
func (p *Pipeline) InvalidateUser(userID int64) {
	p.baseCache.Invalidate(strconv.FormatInt(userID, 10))
}

func copyClaims(claims map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(claims))
	for claim, value := range claims {
		copied[claim] = value
	}
	return copied
}
