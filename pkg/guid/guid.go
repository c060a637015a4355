// Package guid derives stable identifiers for hardware instance IDs, the
// same way fwupd's fwupd_guid_hash_string does. It has no dependency on
// device or firmware semantics so both internal/device and pkg/firmware
// can call it without creating an import cycle between them.
package guid

import "github.com/google/uuid"

// dnsNamespace is the namespace fwupd hashes instance IDs under, the
// standard RFC 4122 DNS namespace UUID.
var dnsNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// HashInstanceID derives a stable GUID from an instance ID string: a
// version-5 (SHA-1) UUID under the DNS namespace. Two devices that report
// the same instance ID always get the same GUID, without a central
// allocator.
func HashInstanceID(instanceID string) string {
	return uuid.NewSHA1(dnsNamespace, []byte(instanceID)).String()
}
