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
	"reflect"
	"testing"
)

func TestFormatEntitlement(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"some group", "urn:geant:cesnet.cz:group:some%20group#perun.cesnet.cz"},
		{"vo1:researchers", "urn:geant:cesnet.cz:group:vo1:researchers#perun.cesnet.cz"},
		{"vo1:members", "urn:geant:cesnet.cz:group:vo1#perun.cesnet.cz"},
	}
	for _, test := range tests {
		got := FormatEntitlement("urn:geant:cesnet.cz:group:", test.value, "perun.cesnet.cz")
		if got != test.want {
			t.Errorf("FormatEntitlement(%q) got %q, want %q", test.value, got, test.want)
		}
	}
}

type upperModifier struct{}

func (upperModifier) Modify(value string) string {
	return "X" + value
}

func TestApplyModifier(t *testing.T) {
	modifier := upperModifier{}

	if got := applyModifier("a", modifier); got != "Xa" {
		t.Errorf("scalar got %v, want %q", got, "Xa")
	}

	got := applyModifier([]string{"a", "b"}, modifier)
	if want := []string{"Xa", "Xb"}; !reflect.DeepEqual(got, want) {
		t.Errorf("string list got %v, want %v", got, want)
	}

	// Non string leaves pass through untouched.
	got = applyModifier([]interface{}{"a", 1}, modifier)
	if want := []interface{}{"Xa", 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("mixed list got %v, want %v", got, want)
	}
	if got := applyModifier(42, modifier); got != 42 {
		t.Errorf("integer got %v, want 42", got)
	}
	if got := applyModifier("a", nil); got != "a" {
		t.Errorf("nil modifier got %v, want %q", got, "a")
	}
}

func TestOptions(t *testing.T) {
	opts := Options{
		"prefix": "urn:",
		"count":  3,
		"attributes": []interface{}{
			"user_login",
			7,
			"user_display_name",
		},
	}

	if got := opts.String("prefix"); got != "urn:" {
		t.Errorf("String got %q", got)
	}
	if got := opts.String("count"); got != "" {
		t.Errorf("String for non string option got %q", got)
	}

	if _, err := opts.RequiredString("missing"); err == nil {
		t.Error("RequiredString for absent option did not fail")
	}
	if value, err := opts.RequiredString("prefix"); err != nil || value != "urn:" {
		t.Errorf("RequiredString got (%q, %v)", value, err)
	}

	got := opts.StringList("attributes")
	if want := []string{"user_login", "user_display_name"}; !reflect.DeepEqual(got, want) {
		t.Errorf("StringList got %v, want %v", got, want)
	}
	if got := opts.StringList("prefix"); got != nil {
		t.Errorf("StringList for non list option got %v", got)
	}
}
