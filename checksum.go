package signforge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"unicode/utf16"
)

// DeviceChecksum digests a device list into "sha256:<hex>".
//
// Records are sorted by id and serialized as compact JSON with
// alphabetically ordered keys, so any permutation of the same devices yields
// the same digest. The byte form follows the canonical encoding the cache
// contract fixes across runtimes: no whitespace, sorted keys, and every
// character outside printable ASCII escaped as \uXXXX. HTML-significant
// characters (& < >) stay raw.
func DeviceChecksum(devices []DeviceRecord) string {
	sorted := make([]DeviceRecord, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	buf := make([]byte, 0, 128*len(sorted)+2)
	buf = append(buf, '[')
	for i, d := range sorted {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '{')
		fields := [...]struct{ key, value string }{
			{"device_class", d.DeviceClass},
			{"id", d.ID},
			{"name", d.Name},
			{"platform", d.Platform},
			{"status", d.Status},
			{"udid", d.UDID},
		}
		for j, field := range fields {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonicalString(buf, field.key)
			buf = append(buf, ':')
			buf = appendCanonicalString(buf, field.value)
		}
		buf = append(buf, '}')
	}
	buf = append(buf, ']')

	digest := sha256.Sum256(buf)
	return "sha256:" + hex.EncodeToString(digest[:])
}

// appendCanonicalString writes s as a JSON string in the cache contract's
// canonical form: short escapes for the usual control characters, \uXXXX
// (lowercase hex, surrogate pairs above the BMP) for everything outside
// 0x20..0x7e, and no HTML escaping.
func appendCanonicalString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r >= 0x20 && r <= 0x7e {
				buf = append(buf, byte(r))
			} else if r > 0xffff {
				hi, lo := utf16.EncodeRune(r)
				buf = fmt.Appendf(buf, `\u%04x\u%04x`, hi, lo)
			} else {
				buf = fmt.Appendf(buf, `\u%04x`, r)
			}
		}
	}
	return append(buf, '"')
}
