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
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cesnet/perun-oidc-bridge/hooks"
	"github.com/cesnet/perun-oidc-bridge/perun"
	"github.com/cesnet/perun-oidc-bridge/utils"
)

// The /bridge/v1 endpoints are the internal surface the host OIDC engine
// calls during authorization and token issuance. They are not meant to be
// reachable from the outside.

// authorizeResponse is the body of an access decision response.
type authorizeResponse struct {
	Verdict     string `json:"verdict"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// AuthorizeHandler computes the access decision for a user towards the
// relying service registered under the provided client ID.
func (s *Server) AuthorizeHandler(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	params := req.URL.Query()

	clientID := params.Get("client_id")
	userID, err := strconv.ParseInt(params.Get("user_id"), 10, 64)
	if clientID == "" || err != nil {
		s.writeBridgeError(rw, http.StatusBadRequest, "client_id and numeric user_id are required")
		return
	}

	decision, err := s.authz.Authorize(ctx, clientID, userID)
	if err != nil {
		s.logger.WithError(err).Errorln("authorize request failed")
		s.writeBridgeError(rw, bridgeFailureStatus(err), "authorization failed")
		return
	}

	err = utils.WriteJSON(rw, http.StatusOK, &authorizeResponse{
		Verdict:     decision.Verdict.String(),
		RedirectURL: decision.RedirectURL,
	}, "")
	if err != nil {
		s.logger.WithError(err).Errorln("authorize request failed writer")
	}
}

// AupsToApproveHandler returns the acceptable use policies the user still
// has to approve before accessing the facility, keyed by the AUP key.
func (s *Server) AupsToApproveHandler(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	params := req.URL.Query()

	facilityID, facilityErr := strconv.ParseInt(params.Get("facility_id"), 10, 64)
	userID, userErr := strconv.ParseInt(params.Get("user_id"), 10, 64)
	if facilityErr != nil || userErr != nil {
		s.writeBridgeError(rw, http.StatusBadRequest, "numeric facility_id and user_id are required")
		return
	}

	aups, err := s.aup.AupsToApprove(ctx, facilityID, userID)
	if err != nil {
		s.logger.WithError(err).Errorln("aups request failed")
		s.writeBridgeError(rw, bridgeFailureStatus(err), "aup lookup failed")
		return
	}

	if err := utils.WriteJSON(rw, http.StatusOK, aups, ""); err != nil {
		s.logger.WithError(err).Errorln("aups request failed writer")
	}
}

// UserInfoHandler resolves the released claims of a user, optionally scoped
// to a client with a space separated scope list.
func (s *Server) UserInfoHandler(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	params := req.URL.Query()

	username := params.Get("username")
	if username == "" {
		s.writeBridgeError(rw, http.StatusBadRequest, "username is required")
		return
	}

	var produced map[string]interface{}
	var err error
	if clientID := params.Get("client_id"); clientID == "" {
		produced, err = s.hooks.ByUsername(ctx, username)
	} else {
		scopes := make(map[string]bool)
		for _, scope := range strings.Fields(params.Get("scope")) {
			scopes[scope] = true
		}
		produced, err = s.hooks.ByUsernameAndClientID(ctx, username, clientID, scopes)
	}
	if err != nil {
		if errors.Is(err, hooks.ErrUserNotFound) {
			s.writeBridgeError(rw, http.StatusNotFound, "unknown user")
			return
		}
		s.logger.WithError(err).Errorln("userinfo request failed")
		s.writeBridgeError(rw, bridgeFailureStatus(err), "userinfo lookup failed")
		return
	}

	if err := utils.WriteJSON(rw, http.StatusOK, produced, ""); err != nil {
		s.logger.WithError(err).Errorln("userinfo request failed writer")
	}
}

func (s *Server) writeBridgeError(rw http.ResponseWriter, code int, message string) {
	err := utils.WriteJSON(rw, code, map[string]interface{}{
		"error": message,
	}, "")
	if err != nil {
		s.logger.WithError(err).Errorln("bridge error failed writer")
	}
}

// bridgeFailureStatus maps a backend outage to 502, everything else to 500.
func bridgeFailureStatus(err error) int {
	var unavailableErr *perun.BackendUnavailableError
	if errors.As(err, &unavailableErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
