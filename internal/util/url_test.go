package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "with_https",
			input:    "https://example.com",
			expected: "example.com",
		},
		{
			name:     "with_http",
			input:    "http://example.com",
			expected: "example.com",
		},
		{
			name:     "with_www",
			input:    "www.example.com",
			expected: "example.com",
		},
		{
			name:     "with_https_and_www",
			input:    "https://www.example.com",
			expected: "example.com",
		},
		{
			name:     "with_trailing_slash",
			input:    "example.com/",
			expected: "example.com",
		},
		{
			name:     "with_all_prefixes",
			input:    "https://www.example.com/",
			expected: "example.com",
		},
		{
			name:     "subdomain",
			input:    "https://api.example.com",
			expected: "api.example.com",
		},
		{
			name:     "plain_domain",
			input:    "example.com",
			expected: "example.com",
		},
		{
			name:     "with_port",
			input:    "https://example.com:8080",
			expected: "example.com:8080",
		},
		{
			name:     "ip_address",
			input:    "http://192.168.1.1",
			expected: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormaliseDomain(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNormaliseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain_domain",
			input:    "example.com",
			expected: "https://example.com",
		},
		{
			name:     "with_www",
			input:    "www.example.com",
			expected: "https://www.example.com",
		},
		{
			name:     "http_to_https",
			input:    "http://example.com",
			expected: "https://example.com",
		},
		{
			name:     "already_https",
			input:    "https://example.com",
			expected: "https://example.com",
		},
		{
			name:     "with_path",
			input:    "example.com/path",
			expected: "https://example.com/path",
		},
		{
			name:     "with_query",
			input:    "example.com/path?q=test",
			expected: "https://example.com/path?q=test",
		},
		{
			name:     "with_fragment",
			input:    "example.com#section",
			expected: "https://example.com#section",
		},
		{
			name:     "empty_string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace_only",
			input:    "   ",
			expected: "",
		},
		{
			name:     "with_spaces",
			input:    "  example.com  ",
			expected: "https://example.com",
		},
		{
			name:     "with_port",
			input:    "example.com:8080",
			expected: "https://example.com:8080",
		},
		{
			name:     "subdomain",
			input:    "api.example.com",
			expected: "https://api.example.com",
		},
		{
			name:     "double_scheme_invalid",
			input:    "https://http://example.com",
			expected: "https://http://example.com", // Current behavior doesn't fix this
		},
		{
			name:     "ip_address",
			input:    "192.168.1.1",
			expected: "https://192.168.1.1",
		},
		{
			name:     "invalid_url",
			input:    "://invalid",
			expected: "https://://invalid", // Scheme gets added but remains invalid
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormaliseURL(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func BenchmarkNormaliseDomain(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NormaliseDomain("https://www.example.com/")
	}
}

func BenchmarkNormaliseURL(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NormaliseURL("http://www.example.com/path?q=test")
	}
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expectErr bool
	}{
		{name: "valid_domain", input: "example.com"},
		{name: "valid_with_prefix", input: "https://www.example.com"},
		{name: "valid_multi_label", input: "jobs.example.co.uk"},
		{name: "empty", input: "", expectErr: true},
		{name: "no_tld", input: "example", expectErr: true},
		{name: "bad_character", input: "exa mple.com", expectErr: true},
		{name: "hyphen_edge", input: "-example.com", expectErr: true},
		{name: "short_tld", input: "example.c", expectErr: true},
		{name: "localhost", input: "localhost", expectErr: true},
		{name: "internal_host", input: "db.internal", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
