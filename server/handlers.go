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
	"net/http"
	"strconv"

	"github.com/cesnet/perun-oidc-bridge/utils"
	"github.com/cesnet/perun-oidc-bridge/version"
)

// HealthCheckHandler implements the health check endpoint, returning 200 OK
// with a JSON body when the server is fine.
func (s *Server) HealthCheckHandler(rw http.ResponseWriter, req *http.Request) {
	err := utils.WriteJSON(rw, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": version.Version,
	}, "")
	if err != nil {
		s.logger.WithError(err).Errorln("healthcheck request failed writer")
	}
}

// RegistrationContinuationHandler receives the parameters of a dynamic
// registration redirect and forwards the browser to the Perun registrar
// form of the first registrable group assigned to the facility. A members
// group forwards to the registration form of its VO.
func (s *Server) RegistrationContinuationHandler(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	params := req.URL.Query()

	facilityID, err := strconv.ParseInt(params.Get("facility_id"), 10, 64)
	if err != nil {
		facility, resolveErr := s.adapter.GetFacilityByClientID(ctx, params.Get("client_id"))
		if resolveErr != nil {
			s.logger.WithError(resolveErr).Errorln("registration continuation facility lookup failed")
			utils.WriteErrorPage(rw, http.StatusBadGateway, "", "facility lookup failed")
			return
		}
		if facility == nil {
			utils.WriteErrorPage(rw, http.StatusNotFound, "", "unknown client")
			return
		}
		facilityID = facility.ID
	}

	voShortName, groupName, err := s.registrationTarget(ctx, facilityID)
	if err != nil {
		s.logger.WithError(err).Errorln("registration continuation group lookup failed")
		utils.WriteErrorPage(rw, http.StatusBadGateway, "", "registration lookup failed")
		return
	}
	if voShortName == "" {
		utils.WriteErrorPage(rw, http.StatusNotFound, "", "no registration form available")
		return
	}

	err = utils.WriteRedirect(rw, http.StatusFound, s.registrarURL, &registrarQuery{
		Vo:    voShortName,
		Group: groupName,
	}, false)
	if err != nil {
		s.logger.WithError(err).Errorln("registration continuation failed writer")
	}
}

// registrarQuery is the query string of a registrar form redirect.
type registrarQuery struct {
	Vo    string `url:"vo"`
	Group string `url:"group,omitempty"`
}

// registrationTarget finds the first group assigned to the facility which
// exposes a registration form and returns its VO short name and, unless it
// is a members group, the group name.
func (s *Server) registrationTarget(ctx context.Context, facilityID int64) (string, string, error) {
	groups, err := s.adapter.GetFacilityGroups(ctx, facilityID)
	if err != nil {
		return "", "", err
	}
	vos, err := s.adapter.GetFacilityVos(ctx, facilityID)
	if err != nil {
		return "", "", err
	}
	vosByID := make(map[int64]string, len(vos))
	for _, vo := range vos {
		vosByID[vo.ID] = vo.ShortName
	}

	for _, group := range groups {
		shortName, ok := vosByID[group.VoID]
		if !ok {
			continue
		}
		if group.IsMembersGroup() {
			has, err := s.adapter.HasVoRegistrationForm(ctx, group.VoID)
			if err != nil {
				return "", "", err
			}
			if has {
				return shortName, "", nil
			}
			continue
		}
		has, err := s.adapter.HasGroupRegistrationForm(ctx, group.ID)
		if err != nil {
			return "", "", err
		}
		if has {
			return shortName, group.Name, nil
		}
	}

	return "", "", nil
}
