package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clubside/regbot/internal/providers"
)

// AddressLookup is the UK address-lookup provider (postcode + house
// number → full address). Implements tools.AddressProvider.
type AddressLookup struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	catchmentTowns []string
}

// NewAddressLookup builds an AddressLookup restricted to the club's
// catchment towns for address_validation's "in-area" check.
func NewAddressLookup(apiKey, baseURL string, catchmentTowns []string) *AddressLookup {
	if baseURL == "" {
		baseURL = "https://api.getaddress.io"
	}
	if len(catchmentTowns) == 0 {
		catchmentTowns = []string{"bristol", "bath", "keynsham"}
	}
	return &AddressLookup{apiKey: apiKey, baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}, catchmentTowns: catchmentTowns}
}

func (a *AddressLookup) Name() string          { return "address_lookup" }
func (a *AddressLookup) Timeout() time.Duration { return 10 * time.Second }
func (a *AddressLookup) Classify(err error) bool { return providers.IsRetryable(err) }

func (a *AddressLookup) Healthy(ctx context.Context) error {
	_, err := a.get(ctx, "/find/BS1 1AA")
	return err
}

// Lookup implements address_lookup: postcode + house number → formatted
// address, its components, and a confidence band.
func (a *AddressLookup) Lookup(ctx context.Context, postcode, house string) (string, map[string]string, string, error) {
	body, err := a.get(ctx, "/find/"+strings.TrimSpace(postcode))
	if err != nil {
		return "", nil, "", fmt.Errorf("provider_unavailable: %w", err)
	}

	var decoded struct {
		Addresses []string `json:"addresses"`
		Town      string   `json:"town"`
		County    string   `json:"county"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", nil, "", fmt.Errorf("provider_unavailable: decode lookup response: %w", err)
	}

	for _, line := range decoded.Addresses {
		if strings.Contains(strings.ToLower(line), strings.ToLower(house)) {
			formatted := fmt.Sprintf("%s, %s, %s", line, decoded.Town, decoded.County)
			components := map[string]string{"house": house, "postcode": postcode, "town": decoded.Town, "county": decoded.County}
			return formatted, components, "high", nil
		}
	}
	if len(decoded.Addresses) > 0 {
		formatted := fmt.Sprintf("%s, %s, %s", decoded.Addresses[0], decoded.Town, decoded.County)
		components := map[string]string{"house": house, "postcode": postcode, "town": decoded.Town, "county": decoded.County}
		return formatted, components, "medium", nil
	}
	return "", nil, "", nil // not_found: caller treats empty formatted as a miss
}

// Validate implements address_validation: confirms a free-text address
// looks UK-shaped and falls inside the club's catchment towns.
func (a *AddressLookup) Validate(ctx context.Context, fullAddress string) (bool, bool, error) {
	trimmed := strings.TrimSpace(fullAddress)
	if trimmed == "" || len(strings.Split(trimmed, ",")) < 2 {
		return false, false, nil
	}
	lower := strings.ToLower(trimmed)
	for _, town := range a.catchmentTowns {
		if strings.Contains(lower, town) {
			return true, true, nil
		}
	}
	return false, true, nil
}

func (a *AddressLookup) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?api-key="+a.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		herr := &providers.HTTPError{Status: resp.StatusCode, Body: string(body)}
		return nil, herr.AsAPIError()
	}
	return body, nil
}
