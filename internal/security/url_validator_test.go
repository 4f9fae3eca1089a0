package security

import (
	"errors"
	"net"
	"testing"
)

// stubLookup replaces DNS resolution for the duration of a test.
func stubLookup(t *testing.T, records map[string][]net.IP) {
	t.Helper()
	orig := lookupIP
	lookupIP = func(host string) ([]net.IP, error) {
		if ips, ok := records[host]; ok {
			return ips, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { lookupIP = orig })
}

func TestValidateURL(t *testing.T) {
	stubLookup(t, map[string][]net.IP{
		"example.com":           {net.ParseIP("93.184.216.34")},
		"internal.example.com":  {net.ParseIP("10.1.2.3")},
		"rebind.example.com":    {net.ParseIP("93.184.216.34"), net.ParseIP("127.0.0.1")},
		"xn--bcher-kva.example": {net.ParseIP("93.184.216.35")},
	})

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		// Valid URLs
		{"valid https", "https://example.com", nil},
		{"valid http", "http://example.com/page", nil},
		{"valid with port", "https://example.com:8080/path", nil},
		{"valid with query", "https://example.com?foo=bar", nil},
		{"unresolvable host", "https://does-not-resolve.example", nil},
		{"idn host", "https://bücher.example/", nil},

		// Invalid schemes
		{"file scheme", "file:///etc/passwd", ErrBlockedScheme},
		{"javascript scheme", "javascript:alert(1)", ErrBlockedScheme},
		{"data scheme", "data:text/html,<script>alert(1)</script>", ErrBlockedScheme},
		{"ftp scheme", "ftp://example.com", ErrBlockedScheme},
		{"no scheme", "example.com", ErrBlockedScheme},
		{"not a url", "not-a-url", ErrBlockedScheme},

		// Localhost blocking
		{"localhost", "http://localhost/admin", ErrLocalhostBlocked},
		{"localhost with port", "http://localhost:8080", ErrLocalhostBlocked},
		{"localhost trailing dot", "http://localhost./", ErrLocalhostBlocked},
		{"fullwidth localhost", "http://ｌｏｃａｌｈｏｓｔ/", ErrLocalhostBlocked},
		{"127.0.0.1", "http://127.0.0.1", ErrLocalhostBlocked},
		{"IPv6 loopback", "http://[::1]/", ErrLocalhostBlocked},
		{"IPv4-mapped loopback", "http://[::ffff:127.0.0.1]/", ErrLocalhostBlocked},
		{"0.0.0.0", "http://0.0.0.0", ErrPrivateIPBlocked},

		// Encoded addresses
		{"decimal loopback", "http://2130706433/", ErrLocalhostBlocked},
		{"decimal private", "http://3232235777/", ErrPrivateIPBlocked},
		{"octal loopback", "http://0177.0.0.1/", ErrLocalhostBlocked},
		{"hex loopback", "http://0x7f.0.0.1/", ErrLocalhostBlocked},
		{"shortened loopback", "http://127.1/", ErrLocalhostBlocked},

		{"localhost subdomain", "http://foo.localhost/", ErrLocalhostBlocked},
		{"ip6-localhost", "http://ip6-localhost/", ErrLocalhostBlocked},

		// Private IPs
		{"private 10.x", "http://10.0.0.1", ErrPrivateIPBlocked},
		{"private 172.16.x", "http://172.16.0.1", ErrPrivateIPBlocked},
		{"private 192.168.x", "http://192.168.1.1", ErrPrivateIPBlocked},
		{"resolves private", "http://internal.example.com/", ErrPrivateIPBlocked},
		{"one record loopback", "http://rebind.example.com/", ErrLocalhostBlocked},

		// Cloud metadata
		{"AWS metadata", "http://169.254.169.254/latest/meta-data/", ErrMetadataBlocked},
		{"decimal metadata", "http://2852039166/", ErrMetadataBlocked},
		{"GCP metadata host", "http://metadata.google.internal/", ErrMetadataBlocked},
		{"AWS instance-data", "http://instance-data/", ErrMetadataBlocked},

		// Empty/invalid
		{"empty", "", ErrInvalidURL},
		{"no host", "http:///path", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFetchURL_AllowLocal(t *testing.T) {
	stubLookup(t, nil)

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"localhost", "http://localhost:8080/", nil},
		{"loopback", "http://127.0.0.1:1/", nil},
		{"private", "http://192.168.1.10/", nil},
		{"metadata ip still blocked", "http://169.254.169.254/", ErrMetadataBlocked},
		{"metadata host still blocked", "http://metadata/", ErrMetadataBlocked},
		{"scheme still checked", "file:///etc/passwd", ErrBlockedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFetchURL(tt.url, true)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("ValidateFetchURL(%q, true) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{"Example.COM", "example.com", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"example.com.", "example.com", false},
		{"ｅｘａｍｐｌｅ.com", "example.com", false},
	}
	for _, tt := range tests {
		got, err := NormalizeHost(tt.host)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeHost(%q) error = %v, wantErr %v", tt.host, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestIsCloudMetadataIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"169.254.169.254", true},
		{"169.254.170.2", true},
		{"100.100.100.200", true},
		{"fd00:ec2::254", true},
		{"8.8.8.8", false},
		{"169.254.1.1", false},
	}
	for _, tt := range tests {
		if got := isCloudMetadataIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("isCloudMetadataIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
