// Package profile provides the stealth profile applied to browser sessions:
// the default extra HTTP headers and the spoofed geolocation and timezone.
package profile

import (
	"embed"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/stealthfetch/internal/types"
)

//go:embed profile.yaml
var defaultProfileFS embed.FS

// Geolocation is a spoofed position reported to pages.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Profile is an immutable set of session defaults. Use New, Parse or Default
// to obtain one; the zero value has no headers and no timezone.
type Profile struct {
	headers     map[string]string
	geolocation Geolocation
	timezone    string
}

// fileProfile is the YAML shape. Pointer fields distinguish "absent" from zero
// so an override file can set a coordinate to 0.
type fileProfile struct {
	Headers     map[string]string `yaml:"headers"`
	Geolocation *fileGeolocation  `yaml:"geolocation"`
	Timezone    string            `yaml:"timezone"`
}

type fileGeolocation struct {
	Latitude  *float64 `yaml:"latitude"`
	Longitude *float64 `yaml:"longitude"`
	Accuracy  *float64 `yaml:"accuracy"`
}

var (
	instance Profile
	once     sync.Once
)

// Default returns the embedded profile.
func Default() Profile {
	once.Do(func() {
		p, err := loadEmbedded()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load embedded profile, using defaults")
			p = fallbackProfile()
		}
		instance = p
	})
	return instance
}

func loadEmbedded() (Profile, error) {
	data, err := defaultProfileFS.ReadFile("profile.yaml")
	if err != nil {
		return Profile{}, err
	}
	p, err := Parse(data, Profile{})
	if err != nil {
		return Profile{}, err
	}

	log.Debug().
		Int("headers", len(p.headers)).
		Str("timezone", p.timezone).
		Msg("Stealth profile loaded")

	return p, nil
}

// fallbackProfile mirrors profile.yaml.
func fallbackProfile() Profile {
	return Profile{
		headers: map[string]string{
			"accept":             "*/*",
			"accept-encoding":    "gzip, deflate, br, zstd",
			"accept-language":    "zh-CN,zh;q=0.9,en;q=0.8,en-GB;q=0.7,en-US;q=0.6",
			"connection":         "keep-alive",
			"sec-ch-ua":          `"Microsoft Edge";v="135", "Not-A.Brand";v="8", "Chromium";v="135"`,
			"sec-ch-ua-mobile":   "?0",
			"sec-ch-ua-platform": `"Windows"`,
			"sec-fetch-dest":     "empty",
			"sec-fetch-mode":     "cors",
			"sec-fetch-site":     "cross-site",
			"user-agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36 Edg/135.0.0.0",
		},
		geolocation: Geolocation{Latitude: 31.2304, Longitude: 121.4737, Accuracy: 1.0},
		timezone:    "Asia/Shanghai",
	}
}

// New builds a validated Profile. Header names are lower-cased.
func New(headers map[string]string, geo Geolocation, timezone string) (Profile, error) {
	p := Profile{
		headers:     normalizeHeaders(headers),
		geolocation: geo,
		timezone:    strings.TrimSpace(timezone),
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Parse decodes YAML data and merges it over base. A headers section replaces
// the base headers as a whole; geolocation fields and the timezone are
// replaced individually.
func Parse(data []byte, base Profile) (Profile, error) {
	var f fileProfile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Profile{}, fmt.Errorf("%w: invalid YAML: %v", types.ErrInvalidProfile, err)
	}

	merged := base.clone()
	if f.Headers != nil {
		merged.headers = normalizeHeaders(f.Headers)
	}
	if g := f.Geolocation; g != nil {
		if g.Latitude != nil {
			merged.geolocation.Latitude = *g.Latitude
		}
		if g.Longitude != nil {
			merged.geolocation.Longitude = *g.Longitude
		}
		if g.Accuracy != nil {
			merged.geolocation.Accuracy = *g.Accuracy
		}
	}
	if tz := strings.TrimSpace(f.Timezone); tz != "" {
		merged.timezone = tz
	}

	if err := merged.Validate(); err != nil {
		return Profile{}, err
	}
	return merged, nil
}

// LoadFile reads an override file and merges it over the embedded profile.
func LoadFile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file: %w", err)
	}
	return Parse(data, Default())
}

// Validate checks coordinates, timezone and header names.
func (p Profile) Validate() error {
	g := p.geolocation
	if g.Latitude < -90 || g.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", types.ErrInvalidProfile, g.Latitude)
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", types.ErrInvalidProfile, g.Longitude)
	}
	if g.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy cannot be negative", types.ErrInvalidProfile)
	}
	if p.timezone == "" || strings.ContainsAny(p.timezone, " \t") {
		return fmt.Errorf("%w: invalid timezone %q", types.ErrInvalidProfile, p.timezone)
	}
	for name, value := range p.headers {
		if name == "" || strings.ContainsAny(name, " \t:\r\n") {
			return fmt.Errorf("%w: invalid header name %q", types.ErrInvalidProfile, name)
		}
		if strings.ContainsAny(value, "\r\n\x00") {
			return fmt.Errorf("%w: header %q contains control characters", types.ErrInvalidProfile, name)
		}
	}
	return nil
}

// Headers returns a copy of the default extra headers.
func (p Profile) Headers() map[string]string {
	return maps.Clone(p.headers)
}

// HeaderNames returns the header names in sorted order.
func (p Profile) HeaderNames() []string {
	names := make([]string, 0, len(p.headers))
	for name := range p.headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Geolocation returns the spoofed position.
func (p Profile) Geolocation() Geolocation { return p.geolocation }

// Timezone returns the IANA timezone reported to pages.
func (p Profile) Timezone() string { return p.timezone }

// Equal reports whether two profiles carry the same values.
func (p Profile) Equal(other Profile) bool {
	return p.geolocation == other.geolocation &&
		p.timezone == other.timezone &&
		maps.Equal(p.headers, other.headers)
}

func (p Profile) clone() Profile {
	next := p
	next.headers = maps.Clone(p.headers)
	return next
}

func normalizeHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return out
}
