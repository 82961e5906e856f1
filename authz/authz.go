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

// Package authz implements the access decision for one authorize request,
// gating whether a given user may use a given relying service.
package authz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"github.com/cesnet/perun-oidc-bridge/config"
	"github.com/cesnet/perun-oidc-bridge/perun"
)

// Verdict is the outcome of one access decision.
type Verdict int

// Access verdicts. Verdicts are ephemeral, computed per request and never
// persisted.
const (
	VerdictAllow Verdict = iota
	VerdictRedirectCustomRegistration
	VerdictRedirectDynamicRegistration
	VerdictRedirectUnapproved
)

// String implements the fmt.Stringer interface.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictRedirectCustomRegistration:
		return "redirect-custom-registration"
	case VerdictRedirectDynamicRegistration:
		return "redirect-dynamic-registration"
	case VerdictRedirectUnapproved:
		return "redirect-unapproved"
	}
	return "unknown"
}

// Decision carries a verdict together with the concrete redirect target for
// the denying verdicts.
type Decision struct {
	Verdict     Verdict
	RedirectURL string
}

// continuationQuery is the query string of a dynamic registration redirect.
type continuationQuery struct {
	ClientID   string `url:"client_id"`
	FacilityID int64  `url:"facility_id"`
	UserID     int64  `url:"user_id"`
	State      string `url:"state"`
}

// Engine computes access decisions from facility and user attributes and
// membership queries of the Perun adapter.
type Engine struct {
	adapter perun.Adapter

	registrationContinueURL string
	unapprovedURL           string

	client *http.Client
	logger logrus.FieldLogger
}

// NewEngine creates a new authorization Engine. The registration
// continuation URL is the internal endpoint which dynamic registration
// redirects carry their parameters to; the unapproved URL is the page shown
// when no registration path exists.
func NewEngine(c *config.Config, adapter perun.Adapter, registrationContinueURL, unapprovedURL string) (*Engine, error) {
	if registrationContinueURL == "" {
		return nil, fmt.Errorf("authz engine registration continuation URL must not be empty")
	}

	return &Engine{
		adapter: adapter,

		registrationContinueURL: registrationContinueURL,
		unapprovedURL:           unapprovedURL,

		client: &http.Client{
			Transport: c.HTTPTransport,
		},
		logger: c.Logger,
	}, nil
}

// Authorize computes the access decision for the provided user towards the
// relying service registered under the provided OAuth2 client ID.
func (e *Engine) Authorize(ctx context.Context, clientID string, userID int64) (*Decision, error) {
	facility, err := e.adapter.GetFacilityByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if facility == nil {
		// Fail open when no facility is registered for the client. This is a
		// deliberate, security relevant policy: clients without a Perun
		// facility are not membership checked at all.
		e.logger.WithField("client_id", clientID).Warnln("authz no facility for client, allowing access without membership check")
		return &Decision{Verdict: VerdictAllow}, nil
	}

	attributes, err := e.adapter.GetFacilityAttributeValues(ctx, facility.ID, []string{
		perun.AttrFacilityCheckGroupMembership,
		perun.AttrFacilityAllowRegistration,
		perun.AttrFacilityRegistrationURL,
		perun.AttrFacilityDynamicRegistration,
	})
	if err != nil {
		return nil, err
	}

	if !attributes[perun.AttrFacilityCheckGroupMembership].Bool() {
		return &Decision{Verdict: VerdictAllow}, nil
	}

	userGroups, err := e.adapter.GetUserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	facilityGroups, err := e.adapter.GetFacilityGroups(ctx, facility.ID)
	if err != nil {
		return nil, err
	}

	if canAccess(userGroups, facilityGroups) {
		return &Decision{Verdict: VerdictAllow}, nil
	}

	if attributes[perun.AttrFacilityAllowRegistration].Bool() {
		registrable, err := e.groupForRegistrationExists(ctx, facilityGroups)
		if err != nil {
			return nil, err
		}
		if registrable {
			if registrationURL := attributes[perun.AttrFacilityRegistrationURL].String(); registrationURL != "" {
				if reachable, probed := e.probeRegistrationURL(ctx, registrationURL); reachable {
					return &Decision{
						Verdict:     VerdictRedirectCustomRegistration,
						RedirectURL: probed,
					}, nil
				}
			}
			if attributes[perun.AttrFacilityDynamicRegistration].Bool() {
				redirectURL, err := e.continuationURL(clientID, facility.ID, userID)
				if err != nil {
					return nil, err
				}
				return &Decision{
					Verdict:     VerdictRedirectDynamicRegistration,
					RedirectURL: redirectURL,
				}, nil
			}
		}
	}

	return &Decision{
		Verdict:     VerdictRedirectUnapproved,
		RedirectURL: e.unapprovedURL,
	}, nil
}

// canAccess reports whether the intersection of the user's active groups and
// the groups assigned to the facility's resources is non empty.
func canAccess(userGroups, facilityGroups []*perun.Group) bool {
	userSet := mapset.NewThreadUnsafeSet()
	for _, group := range userGroups {
		userSet.Add(group.ID)
	}
	facilitySet := mapset.NewThreadUnsafeSet()
	for _, group := range facilityGroups {
		facilitySet.Add(group.ID)
	}

	return userSet.Intersect(facilitySet).Cardinality() > 0
}

// groupForRegistrationExists reports whether any group assignable under the
// facility exposes a registration form. The reserved "members" group
// recurses to its owning VO's form instead of the group's own.
func (e *Engine) groupForRegistrationExists(ctx context.Context, facilityGroups []*perun.Group) (bool, error) {
	for _, group := range facilityGroups {
		var hasForm bool
		var err error
		if group.IsMembersGroup() {
			hasForm, err = e.adapter.HasVoRegistrationForm(ctx, group.VoID)
		} else {
			hasForm, err = e.adapter.HasGroupRegistrationForm(ctx, group.ID)
		}
		if err != nil {
			return false, err
		}
		if hasForm {
			return true, nil
		}
	}

	return false, nil
}

// probeRegistrationURL checks whether the configured custom registration URL
// is reachable, probing http before https for URLs without a scheme.
func (e *Engine) probeRegistrationURL(ctx context.Context, registrationURL string) (bool, string) {
	candidates := []string{registrationURL}
	if !strings.Contains(registrationURL, "://") {
		candidates = []string{
			"http://" + registrationURL,
			"https://" + registrationURL,
		}
	}

	for _, candidate := range candidates {
		if e.probe(ctx, candidate) {
			return true, candidate
		}
	}
	e.logger.WithField("url", registrationURL).Warnln("authz custom registration URL not reachable")

	return false, ""
}

func (e *Engine) probe(ctx context.Context, candidate string) bool {
	req, err := http.NewRequest(http.MethodHead, candidate, nil)
	if err != nil {
		return false
	}
	response, err := e.client.Do(req.WithContext(ctx))
	if err != nil {
		return false
	}
	response.Body.Close()

	return response.StatusCode < 500
}

// continuationURL builds the internal dynamic registration redirect target
// carrying the client, facility and user identifiers.
func (e *Engine) continuationURL(clientID string, facilityID, userID int64) (string, error) {
	base, err := url.Parse(e.registrationContinueURL)
	if err != nil {
		return "", fmt.Errorf("authz invalid registration continuation URL: %v", err)
	}

	values, err := query.Values(&continuationQuery{
		ClientID:   clientID,
		FacilityID: facilityID,
		UserID:     userID,
		State:      rndm.GenerateRandomString(16),
	})
	if err != nil {
		return "", err
	}
	base.RawQuery = values.Encode()

	return base.String(), nil
}
