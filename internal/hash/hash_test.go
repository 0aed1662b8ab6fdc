package hash

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFingerprintFixedLength(t *testing.T) {
	assert.Len(t, Fingerprint("capital of France?"), DigestLength)
	assert.Len(t, Fingerprint(""), DigestLength)
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("What is the capital of France?")
	assert.Equal(t, base, Fingerprint("WHAT IS THE CAPITAL OF FRANCE?"))
	assert.Equal(t, base, Fingerprint("  What is the capital of France?  "))
	assert.Equal(t, base, Fingerprint("\twhat is the capital of france?\n"))
}

func TestFingerprintDistinctInputs(t *testing.T) {
	assert.NotEqual(t, Fingerprint("capital of France?"), Fingerprint("capital of Spain?"))
}

func TestProperty_FingerprintDeterministicAndNormalized(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("deterministic", prop.ForAll(
		func(text string) bool {
			return Fingerprint(text) == Fingerprint(text)
		},
		gen.AnyString(),
	))

	properties.Property("case and padding insensitive", prop.ForAll(
		func(text string) bool {
			base := Fingerprint(text)
			return base == Fingerprint(strings.ToUpper(text)) &&
				base == Fingerprint(" "+text+" ")
		},
		gen.AlphaString(),
	))

	properties.Property("distinct normalized inputs do not collide", prop.ForAll(
		func(a, b string) bool {
			na := strings.ToLower(strings.TrimSpace(a))
			nb := strings.ToLower(strings.TrimSpace(b))
			if na == nb {
				return Fingerprint(a) == Fingerprint(b)
			}
			return Fingerprint(a) != Fingerprint(b)
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
