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
	"reflect"
	"testing"
)

func TestCapabilitiesForGroups(t *testing.T) {
	assignments := []resourceGroupCapabilities{
		{
			capabilities: []string{"res:storage", "res:compute"},
			groupNames:   []string{"vo1:researchers"},
		},
		{
			capabilities: []string{"res:storage", "res:archive"},
			groupNames:   []string{"vo1:archivists"},
		},
		{
			capabilities: []string{"res:admin"},
			groupNames:   []string{"vo2:admins"},
		},
	}

	got := capabilitiesForGroups(assignments, []string{"vo1:researchers", "vo1:archivists"})
	want := []string{"res:archive", "res:compute", "res:storage"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCapabilitiesForGroupsMembersGroup(t *testing.T) {
	// The members group of vo1 carries the unique name "vo1" after its
	// ":members" suffix is stripped.
	assignments := []resourceGroupCapabilities{
		{
			capabilities: []string{"c1", "c2"},
			groupNames:   []string{"vo1"},
		},
	}

	got := capabilitiesForGroups(assignments, []string{"vo1"})
	want := []string{"c1", "c2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCapabilitiesForGroupsNoMatch(t *testing.T) {
	assignments := []resourceGroupCapabilities{
		{
			capabilities: []string{"c1"},
			groupNames:   []string{"vo1:researchers"},
		},
	}

	got := capabilitiesForGroups(assignments, []string{"vo2:others"})
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
