//go:build property
// +build property

package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ransomeye/core/pkg/canonicalize"
)

// TestJCSDeterminism verifies canonicalization is deterministic: the same
// value always produces the same byte string, regardless of how many
// times it is re-encoded.
func TestJCSDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("JCS encoding is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]interface{})
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			b1, err1 := canonicalize.JCS(obj)
			b2, err2 := canonicalize.JCS(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestJCSInsensitiveToMapKeyOrder verifies the canonical output of an
// object doesn't depend on the order its keys were inserted in -- Go
// already randomizes map iteration order per run, so this property also
// incidentally guards against JCS leaking that randomness into its
// output.
func TestJCSInsensitiveToMapKeyOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("JCS output does not depend on key insertion order", prop.ForAll(
		func(a, b, c string) bool {
			forward := map[string]interface{}{"a": a, "b": b, "c": c}
			reversed := map[string]interface{}{"c": c, "b": b, "a": a}

			encodedForward, err1 := canonicalize.JCS(forward)
			encodedReversed, err2 := canonicalize.JCS(reversed)
			if err1 != nil || err2 != nil {
				return false
			}
			return string(encodedForward) == string(encodedReversed)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestSortedEnvPairsHashDeterminism verifies the environment fingerprint
// hash used by the orchestrator's startup record does not depend on the
// order pairs are supplied in.
func TestSortedEnvPairsHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("env pair hash is order-independent", prop.ForAll(
		func(keys []string, values []string) bool {
			pairs := make(map[string]string)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					pairs[keys[i]] = values[i]
				}
			}

			h1 := canonicalize.SortedEnvPairsHash(pairs)
			h2 := canonicalize.SortedEnvPairsHash(pairs)
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
