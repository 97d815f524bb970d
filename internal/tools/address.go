package tools

import (
	"context"
	"fmt"
)

// --- address_lookup ---

type AddressLookupTool struct {
	Provider AddressProvider
}

func NewAddressLookupTool(p AddressProvider) *AddressLookupTool { return &AddressLookupTool{Provider: p} }

func (t *AddressLookupTool) Name() string       { return "address_lookup" }
func (t *AddressLookupTool) Description() string { return "Look up a full address from postcode and house number" }
func (t *AddressLookupTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"postcode": map[string]interface{}{"type": "string"},
			"house":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"postcode", "house"},
	}
}

func (t *AddressLookupTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	postcode, _ := args["postcode"].(string)
	house, _ := args["house"].(string)

	formatted, components, confidence, err := t.Provider.Lookup(ctx, postcode, house)
	if err != nil {
		return Fail("provider_unavailable", "address lookup service is unavailable").WithError(err)
	}
	if formatted == "" {
		return Fail("not_found", "no address found for that postcode and house number")
	}

	data := map[string]interface{}{
		"formatted_address": formatted,
		"components":        components,
		"confidence":        confidence,
	}
	return OK(fmt.Sprintf("formatted_address=%s confidence=%s", formatted, confidence), data)
}

// --- address_validation ---

type AddressValidationTool struct {
	Provider AddressProvider
}

func NewAddressValidationTool(p AddressProvider) *AddressValidationTool {
	return &AddressValidationTool{Provider: p}
}

func (t *AddressValidationTool) Name() string       { return "address_validation" }
func (t *AddressValidationTool) Description() string { return "Confirm a full address is a valid in-area UK address" }
func (t *AddressValidationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"full_address": map[string]interface{}{"type": "string"},
		},
		"required": []string{"full_address"},
	}
}

func (t *AddressValidationTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	full, _ := args["full_address"].(string)
	if full == "" {
		return Fail("incomplete", "address is incomplete")
	}

	inArea, complete, err := t.Provider.Validate(ctx, full)
	if err != nil {
		return Fail("out_of_area", "could not validate address").WithError(err)
	}
	if !complete {
		return Fail("incomplete", "address is missing required components")
	}
	if !inArea {
		return Fail("out_of_area", "address is outside the club's catchment area")
	}

	return OK("valid=true", map[string]interface{}{"valid": true})
}
