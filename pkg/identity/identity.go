/*
 * Copyright 2025 Carver Automation Corporation.
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
 */

// Package identity validates and canonicalizes device hardware identifiers.
//
// A canonical identifier is either a 12-hex-digit uppercase MAC with all
// separators stripped, or a reserved synthetic token (TEST-, SYSTEM:,
// VIRTUAL:) upper-cased verbatim. Normalization is pure: malformed input
// returns ErrInvalidDeviceID, never a silently mangled identifier.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDeviceID = errors.New("invalid device identifier")

const macHexLength = 12

// reservedPrefixes mark synthetic devices (test rigs, system topics,
// virtual devices) that bypass MAC validation.
var reservedPrefixes = []string{"TEST-", "SYSTEM:", "VIRTUAL:"}

// Normalize canonicalizes a raw device identifier.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidDeviceID)
	}

	upper := strings.ToUpper(trimmed)

	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return upper, nil
		}
	}

	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '\t':
			return -1
		default:
			return r
		}
	}, upper)

	if len(stripped) != macHexLength {
		return "", fmt.Errorf("%w: %q is not a 12-hex-digit MAC", ErrInvalidDeviceID, raw)
	}

	for _, r := range stripped {
		if !isHexDigit(r) {
			return "", fmt.Errorf("%w: %q contains non-hex character %q", ErrInvalidDeviceID, raw, r)
		}
	}

	return stripped, nil
}

// IsSynthetic reports whether a canonical identifier is a reserved
// test/system/virtual token rather than a hardware MAC.
func IsSynthetic(id string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}

	return false
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}
