package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReferenceName(t *testing.T) {
	for _, name := range []string{"main", "dev", "feature/x", "release-1.0", "raw_data"} {
		assert.NoError(t, ValidateReferenceName(name), name)
	}

	for _, name := range []string{"", "a b", "dev@1", "-x", "/x", "x/", "a..b", "x.lock", "a:b", "a~1", "a^", "a*", "a?", "a[", "a\\b", "x.", "a//b"} {
		assert.ErrorIs(t, ValidateReferenceName(name), ErrInvalidName, name)
	}
}

func TestRefKindJSON(t *testing.T) {
	ref := Reference{Name: "report", Kind: Tag, Target: Hash(testHash)}

	data, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"tag"`)

	var decoded Reference
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ref, decoded)

	var kind RefKind
	assert.Error(t, kind.UnmarshalText([]byte("remote")))
}
