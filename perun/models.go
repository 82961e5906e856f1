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

import (
	"strings"
)

// User is a Perun user as resolved through one of the adapters. Users are
// read-only projections of the external system.
type User struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
}

// Name returns the display name of the accociated user.
func (u *User) Name() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{u.FirstName, u.MiddleName, u.LastName} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

// Facility is a Perun entity representing a relying service. It maps 1:1 to
// an OAuth2 client through a configured attribute holding the client ID.
type Facility struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Vo is a Perun virtual organization, the top level grouping entity owning
// groups and VO level acceptable use policies.
type Vo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
}

// Group is a Perun group within a VO. The unique name is the VO short name
// joined with the group name by a colon; the "members" group of a VO has the
// unique name of the VO itself once the ":members" suffix is stripped.
type Group struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	UniqueName    string `json:"uniqueName,omitempty"`
	ParentGroupID int64  `json:"parentGroupId,omitempty"`
	VoID          int64  `json:"voId"`
}

// MembersGroupName is the reserved name of the group which holds all valid
// members of a VO.
const MembersGroupName = "members"

// IsMembersGroup reports whether the accociated group is the reserved
// members group of its VO.
func (g *Group) IsMembersGroup() bool {
	return g.Name == MembersGroupName
}

// UniqueGroupName returns the unique name of the accociated group with a
// trailing ":members" suffix stripped. The stripped form represents
// membership in the VO itself rather than in a true subgroup.
func (g *Group) UniqueGroupName() string {
	return strings.TrimSuffix(g.UniqueName, ":"+MembersGroupName)
}

// Resource is a Perun entity linking a facility to one or more groups within
// a VO. Resources are the basis of access decisions.
type Resource struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	VoID       int64  `json:"voId"`
	FacilityID int64  `json:"facilityId"`
}

// Member binds a user to a VO together with a membership status.
type Member struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"userId"`
	VoID   int64  `json:"voId"`
	Status string `json:"status"`
}

// MemberStatusValid is the status of an active VO member. Only valid members
// count towards access decisions.
const MemberStatusValid = "VALID"
