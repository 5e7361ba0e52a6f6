package jsonutil

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling
// payloads where sync exports write numbers or booleans instead of
// strings (native ids are the usual offender). Returns empty string for
// null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleBoolValue converts a json.RawMessage to a bool, handling
// exports that encode flags as true/false, 0/1, or quoted strings.
// ok is false when the value is absent, null, or undecodable.
func FlexibleBoolValue(raw json.RawMessage) (value, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return boolVal, true
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal != 0, true
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		switch strVal {
		case "true", "1":
			return true, true
		case "false", "0", "":
			return false, true
		}
	}

	return false, false
}
