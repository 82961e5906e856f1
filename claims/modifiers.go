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
	"regexp"
)

// regexReplaceModifier rewrites leaf strings through a compiled regular
// expression.
type regexReplaceModifier struct {
	find    *regexp.Regexp
	replace string
}

func newRegexReplaceModifier(opts Options) (Modifier, error) {
	find, err := opts.RequiredString("find")
	if err != nil {
		return nil, optsError("regex_replace", err.Error())
	}
	compiled, err := regexp.Compile(find)
	if err != nil {
		return nil, optsError("regex_replace", err.Error())
	}

	return &regexReplaceModifier{
		find:    compiled,
		replace: opts.String("replace"),
	}, nil
}

// Modify implements the Modifier interface.
func (m *regexReplaceModifier) Modify(value string) string {
	return m.find.ReplaceAllString(value, m.replace)
}

// entitlementFormatModifier wraps plain group names into AARC entitlement
// strings.
type entitlementFormatModifier struct {
	prefix    string
	authority string
}

func newEntitlementFormatModifier(opts Options) (Modifier, error) {
	prefix, err := opts.RequiredString("prefix")
	if err != nil {
		return nil, optsError("entitlement_format", err.Error())
	}
	authority, err := opts.RequiredString("authority")
	if err != nil {
		return nil, optsError("entitlement_format", err.Error())
	}

	return &entitlementFormatModifier{
		prefix:    prefix,
		authority: authority,
	}, nil
}

// Modify implements the Modifier interface.
func (m *entitlementFormatModifier) Modify(value string) string {
	return FormatEntitlement(m.prefix, value, m.authority)
}
