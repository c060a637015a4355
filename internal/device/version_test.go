package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fwupdcore/internal/device"
)

func TestCompareVersionsTriplet(t *testing.T) {
	assert.Equal(t, -1, device.CompareVersions("1.2.3", "1.10.0", device.VersionFormatTriplet))
	assert.Equal(t, 0, device.CompareVersions("1.2.3", "1.2.3", device.VersionFormatTriplet))
	assert.Equal(t, 1, device.CompareVersions("2.0.0", "1.9.9", device.VersionFormatTriplet))
}

func TestFormatBCDVersion(t *testing.T) {
	assert.Equal(t, "1.2", device.FormatBCDVersion(0x0102))
}

func TestFormatIntelMeVersion(t *testing.T) {
	assert.Equal(t, "16.1.2.3", device.FormatIntelMeVersion(0x10010203))
}
