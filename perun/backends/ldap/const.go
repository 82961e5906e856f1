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

package ldap

// Define the known Perun directory object classes.
const (
	ObjectClassUser     = "perunUser"
	ObjectClassVo       = "perunVO"
	ObjectClassGroup    = "perunGroup"
	ObjectClassResource = "perunResource"
	ObjectClassFacility = "perunFacility"
)

// Define the known Perun directory attribute descriptors. The directory
// client library case folds attribute names, comparisons must be case
// insensitive.
const (
	AttributeDN            = "dn"
	AttributePerunUserID   = "perunUserId"
	AttributePerunVoID     = "perunVoId"
	AttributePerunGroupID  = "perunGroupId"
	AttributeEduPersonPN   = "eduPersonPrincipalNames"
	AttributeMemberOf      = "memberOf"
	AttributeUniqueMember  = "uniqueMember"
	AttributeCN            = "cn"
	AttributeSN            = "sn"
	AttributeGivenName     = "givenName"
	AttributeDescription   = "description"
	AttributeO             = "o"
	AttributeOU            = "ou"
	AttributeUniqueName    = "perunUniqueGroupName"
	AttributeParentGroupID = "perunParentGroupId"
	AttributeAssignedGroup = "assignedGroupId"
	AttributeFacilityID    = "perunFacilityId"
	AttributeResourceID    = "perunResourceId"
	AttributeCapabilities  = "capabilities"
	AttributeOIDCClientID  = "OIDCClientID"
	AttributeMemberStatus  = "memberStatus"
)
