// Package security provides input validation and log redaction.
package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrInvalidHost      = errors.New("URL host is not a valid domain name")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// AllowedSchemes defines the permitted URL schemes.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// localHosts are hostnames that always point at the local machine.
var localHosts = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"local":                 true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// metadataHosts are cloud metadata hostnames. They stay blocked even when
// local URLs are allowed.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true, // GCP metadata
	"metadata":                 true, // Generic cloud metadata
	"instance-data":            true, // AWS instance metadata hostname
}

// cloudMetadataIPs contains IP addresses used by cloud provider metadata services.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud Instance Metadata (IMDS)
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// lookupIP resolves hostnames. Replaced in tests.
var lookupIP = net.LookupIP

// ValidateURL checks that a URL is safe to fetch from a shared service.
// Local and private targets are rejected.
func ValidateURL(rawURL string) error {
	return ValidateFetchURL(rawURL, false)
}

// ValidateFetchURL checks that rawURL is an http(s) URL with a valid host.
//
// Unless allowLocal is set it also blocks loopback, private, link-local and
// unspecified addresses, including encodings that hide them (decimal, octal,
// hex, shortened and IPv4-mapped IPv6 forms), and hostnames that resolve to
// them. Cloud metadata endpoints are always blocked.
//
// Internationalized hostnames are normalized with IDNA lookup rules first,
// so full-width or otherwise mapped spellings of a blocked name are caught.
func ValidateFetchURL(rawURL string, allowLocal bool) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return ErrInvalidURL
	}

	if ip := parseIPWithNormalization(hostname); ip != nil {
		return validateIP(normalizeIPv4Mapped(ip), allowLocal)
	}

	ascii, err := NormalizeHost(hostname)
	if err != nil {
		return ErrInvalidHost
	}

	if metadataHosts[ascii] {
		return ErrMetadataBlocked
	}
	if allowLocal {
		return nil
	}
	if isLocalhostHostname(ascii) {
		return ErrLocalhostBlocked
	}

	// If DNS resolution fails, allow it - the browser will report the error.
	ips, err := lookupIP(ascii)
	if err != nil {
		return nil
	}
	for _, resolved := range ips {
		if err := validateIP(normalizeIPv4Mapped(resolved), false); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeHost maps a hostname to its lower-case ASCII (punycode) form.
func NormalizeHost(hostname string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(hostname, "."))
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// parseIPWithNormalization parses an IP address string, handling encodings
// that could be used to bypass address checks:
// - Standard dotted decimal (192.168.1.1)
// - Decimal encoding (3232235777 for 192.168.1.1)
// - Octal encoding (0300.0250.01.01 for 192.168.1.1)
// - Hex encoding (0xC0.0xA8.0x01.0x01 for 192.168.1.1)
func parseIPWithNormalization(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	// Single decimal number (e.g., 2130706433 for 127.0.0.1)
	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	if len(parts) == 4 {
		var octets [4]byte
		for i, part := range parts {
			val, err := parseIntWithBase(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}

	// Shortened forms (e.g., 127.1 -> 127.0.0.1)
	if len(parts) == 2 {
		first, err1 := parseIntWithBase(parts[0])
		second, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}

	return nil
}

// parseIntWithBase parses a decimal, octal (0-prefixed) or hex (0x-prefixed) integer.
func parseIntWithBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}

	if strings.HasPrefix(s, "0") && len(s) > 1 {
		return strconv.ParseUint(s[1:], 8, 64)
	}

	return strconv.ParseUint(s, 10, 64)
}

// normalizeIPv4Mapped converts IPv4-mapped IPv6 addresses (::ffff:x.x.x.x) to IPv4.
func normalizeIPv4Mapped(ip net.IP) net.IP {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

func isLocalhostHostname(hostname string) bool {
	if localHosts[hostname] {
		return true
	}
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// validateIP checks an address. Metadata endpoints are rejected first so
// they stay blocked when allowLocal is set.
func validateIP(ip net.IP, allowLocal bool) error {
	if isCloudMetadataIP(ip) {
		return ErrMetadataBlocked
	}
	if allowLocal {
		return nil
	}

	// Entire 127.0.0.0/8 range and ::1
	if ip.IsLoopback() {
		return ErrLocalhostBlocked
	}
	if ip.IsPrivate() {
		return ErrPrivateIPBlocked
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrPrivateIPBlocked
	}
	if ip.IsUnspecified() {
		return ErrPrivateIPBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			return true
		}
	}
	return false
}
