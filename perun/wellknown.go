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

package perun

// Well known abstract attribute identifiers consumed by the engines. The
// mapping registry binds them to backend specific names.
const (
	// Facility attributes gating the authorization decision.
	AttrFacilityCheckGroupMembership = "facility_check_group_membership"
	AttrFacilityAllowRegistration    = "facility_allow_registration"
	AttrFacilityRegistrationURL      = "facility_registration_url"
	AttrFacilityDynamicRegistration  = "facility_dynamic_registration"

	// Capability attributes.
	AttrFacilityCapabilities = "facility_capabilities"
	AttrResourceCapabilities = "resource_capabilities"

	// Acceptable use policy attributes.
	AttrFacilityRequiredAups = "facility_required_aups"
	AttrOrgAups              = "org_aups"
	AttrVoAup                = "vo_aup"
	AttrUserAups             = "user_aups"

	// Facility attribute holding the OAuth2 client identifier, the join key
	// between the OAuth2 client registry and the Perun entity graph.
	AttrFacilityClientID = "facility_client_id"
)
