//go:build property
// +build property

package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: canonicalization is insensitive to map construction order,
// so CanonicalHash(obj) is stable across repeated computation.
func TestCanonicalHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is stable for arbitrary string maps", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			h1, err1 := CanonicalHash(obj)
			h2, err2 := CanonicalHash(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("hash distinguishes differing values", prop.ForAll(
		func(key string, a string, b string) bool {
			if key == "" || a == b {
				return true
			}
			h1, err1 := CanonicalHash(map[string]any{key: a})
			h2, err2 := CanonicalHash(map[string]any{key: b})
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 != h2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
