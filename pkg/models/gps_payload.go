package models

import (
	"encoding/json"
	"strings"

	"github.com/supertl/canonical-engine/pkg/jsonutil"
)

// GpsPayload is the subset of the GPS platform's raw activity JSON the
// engine inspects. Fields the sync tooling writes inconsistently
// (string vs number vs bool) stay raw and go through jsonutil.
type GpsPayload struct {
	Timezone   json.RawMessage `json:"timezone"`
	Trainer    json.RawMessage `json:"trainer"`
	Virtual    json.RawMessage `json:"virtual"`
	DeviceName json.RawMessage `json:"device_name"`
	ExternalID json.RawMessage `json:"external_id"`
	Name       json.RawMessage `json:"name"`

	StartLatLng    []*float64      `json:"start_latlng"`
	StartLatitude  *float64        `json:"start_latitude"`
	StartLongitude *float64        `json:"start_longitude"`
	HasLatLng      json.RawMessage `json:"has_latlng"`

	Map *GpsPayloadMap `json:"map"`
}

// GpsPayloadMap holds the encoded track, when one exists.
type GpsPayloadMap struct {
	SummaryPolyline string `json:"summary_polyline"`
	Polyline        string `json:"polyline"`
}

// DecodeGpsPayload parses the raw activity JSON. A nil result with a
// nil error never happens; callers treat a decode error as "no payload".
func DecodeGpsPayload(raw []byte) (*GpsPayload, error) {
	var p GpsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TimezoneLabel returns the payload's timezone string, if any.
func (p *GpsPayload) TimezoneLabel() string {
	return jsonutil.FlexibleStringValue(p.Timezone)
}

// HasNoGPS reports whether the activity carries no positional fix at
// all: no track polyline and no start coordinates in any of the shapes
// the platform has used over the years.
func (p *GpsPayload) HasNoGPS() bool {
	if v, ok := jsonutil.FlexibleBoolValue(p.HasLatLng); ok && !v {
		return true
	}
	if p.Map != nil && (p.Map.SummaryPolyline != "" || p.Map.Polyline != "") {
		return false
	}
	if len(p.StartLatLng) == 2 && p.StartLatLng[0] != nil && p.StartLatLng[1] != nil {
		return false
	}
	if p.StartLatitude != nil || p.StartLongitude != nil {
		return false
	}
	return true
}

// IsVirtualOrTrainer reports whether the session was stationary:
// trainer/virtual flags set, a virtual sport label, or a known virtual
// platform in the device, external id, or activity name.
func (p *GpsPayload) IsVirtualOrTrainer(sport string) bool {
	if v, _ := jsonutil.FlexibleBoolValue(p.Trainer); v {
		return true
	}
	if v, _ := jsonutil.FlexibleBoolValue(p.Virtual); v {
		return true
	}

	s := strings.ToLower(strings.TrimSpace(sport))
	if strings.Contains(s, "virtual") || strings.Contains(s, "trainer") {
		return true
	}

	device := strings.ToLower(jsonutil.FlexibleStringValue(p.DeviceName))
	external := strings.ToLower(jsonutil.FlexibleStringValue(p.ExternalID))
	name := strings.ToLower(jsonutil.FlexibleStringValue(p.Name))

	return strings.Contains(device, "zwift") ||
		strings.Contains(external, "zwift") ||
		strings.Contains(name, "zwift")
}
