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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AttributeType is the declared semantic type of a Perun attribute.
type AttributeType string

// Declared attribute types as used in attribute mapping configuration.
const (
	TypeString      AttributeType = "STRING"
	TypeLargeString AttributeType = "LARGE_STRING"
	TypeInteger     AttributeType = "INTEGER"
	TypeBoolean     AttributeType = "BOOLEAN"
	TypeArray       AttributeType = "ARRAY"
	TypeLargeArray  AttributeType = "LARGE_ARRAY"
	TypeMapJSON     AttributeType = "MAP_JSON"
	TypeMapKeyValue AttributeType = "MAP_KEY_VALUE"
)

func (t AttributeType) valid() bool {
	switch t {
	case TypeString, TypeLargeString, TypeInteger, TypeBoolean, TypeArray, TypeLargeArray, TypeMapJSON, TypeMapKeyValue:
		return true
	}
	return false
}

// AttributeValue is a typed Perun attribute value. It is a tagged union over
// string, integer, boolean, list and map variants. A value is either present
// or null; null values read as the typed defaults documented on the accessor
// methods, never as an error.
type AttributeValue struct {
	vType AttributeType
	null  bool

	s string
	i int64
	b bool
	l []string
	m map[string]string
}

// NullValue returns the canonical null value for the provided type. Boolean
// null reads as false, array and map nulls read as empty, not as missing.
func NullValue(t AttributeType) AttributeValue {
	return AttributeValue{vType: t, null: true}
}

// NewStringValue returns a present STRING value.
func NewStringValue(s string) AttributeValue {
	return AttributeValue{vType: TypeString, s: s}
}

// NewLargeStringValue returns a present LARGE_STRING value.
func NewLargeStringValue(s string) AttributeValue {
	return AttributeValue{vType: TypeLargeString, s: s}
}

// NewIntegerValue returns a present INTEGER value.
func NewIntegerValue(i int64) AttributeValue {
	return AttributeValue{vType: TypeInteger, i: i}
}

// NewBooleanValue returns a present BOOLEAN value.
func NewBooleanValue(b bool) AttributeValue {
	return AttributeValue{vType: TypeBoolean, b: b}
}

// NewArrayValue returns a present ARRAY value.
func NewArrayValue(l []string) AttributeValue {
	if l == nil {
		l = []string{}
	}
	return AttributeValue{vType: TypeArray, l: l}
}

// NewMapValue returns a present MAP_JSON value.
func NewMapValue(m map[string]string) AttributeValue {
	if m == nil {
		m = map[string]string{}
	}
	return AttributeValue{vType: TypeMapJSON, m: m}
}

// Type returns the declared type of the accociated value.
func (v AttributeValue) Type() AttributeType {
	return v.vType
}

// IsNull reports whether the accociated value is the typed null.
func (v AttributeValue) IsNull() bool {
	return v.null
}

// String returns the string variant, or "" for null values.
func (v AttributeValue) String() string {
	return v.s
}

// Int returns the integer variant, or 0 for null values.
func (v AttributeValue) Int() int64 {
	return v.i
}

// Bool returns the boolean variant. Null reads as false.
func (v AttributeValue) Bool() bool {
	if v.null {
		return false
	}
	return v.b
}

// List returns the list variant. Null reads as an empty list.
func (v AttributeValue) List() []string {
	if v.l == nil {
		return []string{}
	}
	return v.l
}

// Map returns the map variant. Null reads as an empty map.
func (v AttributeValue) Map() map[string]string {
	if v.m == nil {
		return map[string]string{}
	}
	return v.m
}

// MarshalJSON implements the json.Marshaler interface, serializing the value
// in its backend native representation for attribute writes.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	if v.null {
		switch v.vType {
		case TypeBoolean:
			return json.Marshal(false)
		case TypeArray, TypeLargeArray:
			return json.Marshal([]string{})
		case TypeMapJSON, TypeMapKeyValue:
			return json.Marshal(map[string]string{})
		default:
			return []byte("null"), nil
		}
	}
	switch v.vType {
	case TypeString, TypeLargeString:
		return json.Marshal(v.s)
	case TypeInteger:
		return json.Marshal(v.i)
	case TypeBoolean:
		return json.Marshal(v.b)
	case TypeArray, TypeLargeArray:
		return json.Marshal(v.List())
	case TypeMapJSON, TypeMapKeyValue:
		return json.Marshal(v.Map())
	}
	return nil, fmt.Errorf("unrecognized attribute type: %v", v.vType)
}

// ParseJSONValue converts a decoded JSON value delivered by the RPC backend
// into the typed value declared by the provided mapping. A nil raw value
// yields the typed null. Structurally wrong data yields an
// InconvertibleValueError.
func ParseJSONValue(mapping *AttributeMapping, raw interface{}) (AttributeValue, error) {
	if raw == nil {
		return NullValue(mapping.Type), nil
	}

	fault := func(reason string) (AttributeValue, error) {
		return NullValue(mapping.Type), &InconvertibleValueError{
			Identifier: mapping.Identifier,
			Type:       mapping.Type,
			Reason:     reason,
		}
	}

	switch mapping.Type {
	case TypeString, TypeLargeString:
		switch value := raw.(type) {
		case string:
			return AttributeValue{vType: mapping.Type, s: value}, nil
		case float64:
			return AttributeValue{vType: mapping.Type, s: strconv.FormatFloat(value, 'f', -1, 64)}, nil
		case bool:
			return AttributeValue{vType: mapping.Type, s: strconv.FormatBool(value)}, nil
		}
		return fault(fmt.Sprintf("cannot read %T as string", raw))

	case TypeInteger:
		switch value := raw.(type) {
		case float64:
			return NewIntegerValue(int64(value)), nil
		case string:
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fault(fmt.Sprintf("cannot read %q as integer", value))
			}
			return NewIntegerValue(i), nil
		}
		return fault(fmt.Sprintf("cannot read %T as integer", raw))

	case TypeBoolean:
		switch value := raw.(type) {
		case bool:
			return NewBooleanValue(value), nil
		case string:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fault(fmt.Sprintf("cannot read %q as boolean", value))
			}
			return NewBooleanValue(b), nil
		}
		return fault(fmt.Sprintf("cannot read %T as boolean", raw))

	case TypeArray, TypeLargeArray:
		values, err := stringSlice(raw)
		if err != nil {
			return fault(err.Error())
		}
		return AttributeValue{vType: mapping.Type, l: values}, nil

	case TypeMapJSON:
		m, err := stringMap(raw)
		if err != nil {
			return fault(err.Error())
		}
		return AttributeValue{vType: TypeMapJSON, m: m}, nil

	case TypeMapKeyValue:
		// Key-value maps arrive either directly as objects or as a list of
		// separator joined strings.
		switch value := raw.(type) {
		case map[string]interface{}:
			m, err := stringMap(value)
			if err != nil {
				return fault(err.Error())
			}
			return AttributeValue{vType: TypeMapKeyValue, m: m}, nil
		default:
			values, err := stringSlice(raw)
			if err != nil {
				return fault(err.Error())
			}
			m, err := splitKeyValue(values, mapping.Separator)
			if err != nil {
				return fault(err.Error())
			}
			return AttributeValue{vType: TypeMapKeyValue, m: m}, nil
		}
	}

	return fault("unrecognized declared type")
}

// ParseStringValues converts the raw string values of a directory entry
// attribute into the typed value declared by the provided mapping. An empty
// slice yields the typed null.
func ParseStringValues(mapping *AttributeMapping, values []string) (AttributeValue, error) {
	if len(values) == 0 {
		return NullValue(mapping.Type), nil
	}

	fault := func(reason string) (AttributeValue, error) {
		return NullValue(mapping.Type), &InconvertibleValueError{
			Identifier: mapping.Identifier,
			Type:       mapping.Type,
			Reason:     reason,
		}
	}

	switch mapping.Type {
	case TypeString, TypeLargeString:
		return AttributeValue{vType: mapping.Type, s: values[0]}, nil

	case TypeInteger:
		i, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil {
			return fault(fmt.Sprintf("cannot read %q as integer", values[0]))
		}
		return NewIntegerValue(i), nil

	case TypeBoolean:
		b, err := strconv.ParseBool(strings.ToLower(values[0]))
		if err != nil {
			return fault(fmt.Sprintf("cannot read %q as boolean", values[0]))
		}
		return NewBooleanValue(b), nil

	case TypeArray, TypeLargeArray:
		l := make([]string, len(values))
		copy(l, values)
		return AttributeValue{vType: mapping.Type, l: l}, nil

	case TypeMapJSON:
		// Directory entries embed JSON maps as a single string value.
		var m map[string]string
		if err := json.Unmarshal([]byte(values[0]), &m); err != nil {
			return fault(fmt.Sprintf("unparseable embedded JSON: %v", err))
		}
		return AttributeValue{vType: TypeMapJSON, m: m}, nil

	case TypeMapKeyValue:
		m, err := splitKeyValue(values, mapping.Separator)
		if err != nil {
			return fault(err.Error())
		}
		return AttributeValue{vType: TypeMapKeyValue, m: m}, nil
	}

	return fault("unrecognized declared type")
}

func stringSlice(raw interface{}) ([]string, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("cannot read %T as array", raw)
	}
	values := make([]string, 0, len(list))
	for _, entry := range list {
		switch value := entry.(type) {
		case string:
			values = append(values, value)
		case float64:
			values = append(values, strconv.FormatFloat(value, 'f', -1, 64))
		case bool:
			values = append(values, strconv.FormatBool(value))
		case nil:
			// Skip embedded nulls.
		default:
			return nil, fmt.Errorf("cannot read array element %T as string", entry)
		}
	}
	return values, nil
}

func stringMap(raw interface{}) (map[string]string, error) {
	switch value := raw.(type) {
	case map[string]interface{}:
		m := make(map[string]string, len(value))
		for k, entry := range value {
			switch v := entry.(type) {
			case string:
				m[k] = v
			case float64:
				m[k] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				m[k] = strconv.FormatBool(v)
			case nil:
				m[k] = ""
			default:
				// Complex values are kept as their embedded JSON encoding.
				encoded, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("unparseable embedded JSON: %v", err)
				}
				m[k] = string(encoded)
			}
		}
		return m, nil
	case string:
		var m map[string]string
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			return nil, fmt.Errorf("unparseable embedded JSON: %v", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("cannot read %T as map", raw)
}

func splitKeyValue(values []string, separator string) (map[string]string, error) {
	if separator == "" {
		separator = "="
	}
	m := make(map[string]string, len(values))
	for _, entry := range values {
		parts := strings.SplitN(entry, separator, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("value %q does not contain separator %q", entry, separator)
		}
		m[parts[0]] = parts[1]
	}
	return m, nil
}
