package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceInstanceName_Split(t *testing.T) {
	full, err := ServiceInstanceName("Living Room.TV", "_airplay._tcp", "")
	require.NoError(t, err)
	assert.Equal(t, `Living Room\.TV._airplay._tcp.local.`, full)

	instance, serviceType, domain, err := SplitServiceInstanceName(full)
	require.NoError(t, err)
	assert.Equal(t, "Living Room.TV", instance)
	assert.Equal(t, "_airplay._tcp", serviceType)
	assert.Equal(t, "local.", domain)
}

func TestValidateServiceType(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"_http._tcp", true},
		{"_http._tcp.", true},
		{"_rxdnssd._udp", true},
		{"_http._sctp", false},
		{"http._tcp", false},
		{"_http", false},
		{"_this-is-way-too-long._tcp", false},
		{"_bad!._tcp", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateServiceType(tt.in)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "local.", NormalizeDomain(""))
	assert.Equal(t, "local.", NormalizeDomain("local"))
	assert.Equal(t, "example.com.", NormalizeDomain("example.com."))
}
