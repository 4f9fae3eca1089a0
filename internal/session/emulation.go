package session

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/stealthfetch/internal/profile"
)

// applyEmulation applies the profile's geolocation and timezone overrides to page.
// Overrides are per target, so every page a session opens needs them.
func applyEmulation(page *rod.Page, p profile.Profile) error {
	geo := p.Geolocation()
	err := proto.EmulationSetGeolocationOverride{
		Latitude:  gson.Num(geo.Latitude),
		Longitude: gson.Num(geo.Longitude),
		Accuracy:  gson.Num(geo.Accuracy),
	}.Call(page)
	if err != nil {
		return fmt.Errorf("failed to set geolocation override: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.Timezone()}).Call(page); err != nil {
		return fmt.Errorf("failed to set timezone override to %s: %w", p.Timezone(), err)
	}
	return nil
}

// applyHeaders replaces the page's extra HTTP headers with headers.
// An empty map clears them.
func applyHeaders(page *rod.Page, headers map[string]string) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("failed to enable network domain: %w", err)
	}

	networkHeaders := make(proto.NetworkHeaders, len(headers))
	for name, value := range headers {
		networkHeaders[name] = gson.New(value)
	}

	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: networkHeaders}).Call(page); err != nil {
		return fmt.Errorf("failed to set extra HTTP headers: %w", err)
	}
	return nil
}
