//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseTenantID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseTenantID(f *testing.F) {
	f.Add("")
	f.Add("family-silva")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("'; DROP TABLE transactions;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("family\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTenantID(input)
		if err == nil {
			roundTrip, err2 := ParseTenantID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
		}

		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}
