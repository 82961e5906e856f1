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

package backends

import (
	"errors"
	"sort"
)

// ErrNotInDirectory is returned by the directory adapter for operations which
// cannot be expressed against the directory schema. The fallback adapter
// delegates such operations to its secondary adapter.
var ErrNotInDirectory = errors.New("operation not available in directory")

// resourceGroupCapabilities binds the capability list of one resource to the
// unique names of the groups assigned to it.
type resourceGroupCapabilities struct {
	capabilities []string
	groupNames   []string
}

// capabilitiesForGroups aggregates the capabilities of all resources which
// have at least one assigned group whose unique name (with a trailing
// ":members" suffix stripped) is contained in the provided user group name
// set. The result is sorted and duplicate free.
func capabilitiesForGroups(assignments []resourceGroupCapabilities, userGroupNames []string) []string {
	names := make(map[string]bool, len(userGroupNames))
	for _, name := range userGroupNames {
		names[name] = true
	}

	collected := make(map[string]bool)
	for _, assignment := range assignments {
		if len(assignment.capabilities) == 0 {
			continue
		}
		for _, groupName := range assignment.groupNames {
			if names[groupName] {
				for _, capability := range assignment.capabilities {
					collected[capability] = true
				}
				break
			}
		}
	}

	capabilities := make([]string, 0, len(collected))
	for capability := range collected {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)

	return capabilities
}
