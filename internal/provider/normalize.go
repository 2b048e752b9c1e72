package provider

import (
	"encoding/json"
	"fmt"

	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

// The upstream answers in one of three shapes depending on endpoint and
// version: an object nested under a "data" key, a bare array, or a bare
// object. Anything else is a hard upstream error, never a pass-through.

// unwrapData peels the optional {"data": {...}} envelope.
func unwrapData(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return body
}

func normalizeCountries(body []byte) (map[string]CountryInfo, error) {
	raw := unwrapData(body)

	// Bare-object shape: code -> info.
	var asMap map[string]CountryInfo
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	// Bare-array shape: entries carry their own country code.
	var asList []struct {
		Country string `json:"country"`
		CountryInfo
	}
	if err := json.Unmarshal(raw, &asList); err == nil {
		countries := make(map[string]CountryInfo, len(asList))
		for _, entry := range asList {
			if entry.Country == "" {
				continue
			}
			countries[entry.Country] = entry.CountryInfo
		}
		return countries, nil
	}

	return nil, fmt.Errorf("%w: unrecognized countries response shape", pkgerrors.ErrUpstream)
}

func normalizeOperators(body []byte) (map[string]OperatorInfo, error) {
	raw := unwrapData(body)

	var asMap map[string]OperatorInfo
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	var asList []struct {
		Operator string `json:"operator"`
		OperatorInfo
	}
	if err := json.Unmarshal(raw, &asList); err == nil {
		operators := make(map[string]OperatorInfo, len(asList))
		for _, entry := range asList {
			if entry.Operator == "" {
				continue
			}
			operators[entry.Operator] = entry.OperatorInfo
		}
		return operators, nil
	}

	return nil, fmt.Errorf("%w: unrecognized operators response shape", pkgerrors.ErrUpstream)
}

// normalizeProducts always keys the result by the requested country, whether
// the upstream nested it that way or returned the country's map directly.
func normalizeProducts(body []byte, country string) (map[string]map[string]map[string]ProductOffer, error) {
	raw := unwrapData(body)

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("%w: unrecognized prices response shape", pkgerrors.ErrUpstream)
	}

	inner := raw
	if countryRaw, ok := nested[country]; ok {
		inner = countryRaw
	}

	var services map[string]map[string]ProductOffer
	if err := json.Unmarshal(inner, &services); err != nil {
		return nil, fmt.Errorf("%w: unrecognized prices response shape", pkgerrors.ErrUpstream)
	}

	return map[string]map[string]map[string]ProductOffer{country: services}, nil
}

func decodeActivation(body []byte) (*models.Activation, error) {
	var activation models.Activation
	if err := json.Unmarshal(unwrapData(body), &activation); err != nil {
		return nil, fmt.Errorf("%w: malformed activation body", pkgerrors.ErrUpstream)
	}
	if activation.ID == 0 {
		return nil, fmt.Errorf("%w: activation body missing id", pkgerrors.ErrUpstream)
	}
	return &activation, nil
}
