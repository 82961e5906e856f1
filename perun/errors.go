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
	"fmt"
)

// UnknownAttributeError is returned when an attribute identifier is not
// registered in the mapping registry.
type UnknownAttributeError struct {
	Identifier string
}

// Error implements the error interface.
func (err *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute identifier: %s", err.Identifier)
}

// InconvertibleValueError is returned when a backend delivered data which is
// structurally wrong for the declared type of an attribute. Absence of data
// never raises this error, absent values map to the typed null defaults.
type InconvertibleValueError struct {
	Identifier string
	Type       AttributeType
	Reason     string
}

// Error implements the error interface.
func (err *InconvertibleValueError) Error() string {
	return fmt.Sprintf("inconvertible value for attribute %s (%s): %s", err.Identifier, err.Type, err.Reason)
}

// BackendUnavailableError wraps transient transport level failures of a
// backend. It carries a retry signal so callers can distinguish a network
// fault from an authoritative negative answer.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (err *BackendUnavailableError) Error() string {
	return fmt.Sprintf("perun %s backend unavailable: %v", err.Backend, err.Err)
}

// Unwrap returns the wrapped transport error.
func (err *BackendUnavailableError) Unwrap() error {
	return err.Err
}

// Temporary marks the accociated error as retryable.
func (err *BackendUnavailableError) Temporary() bool {
	return true
}
