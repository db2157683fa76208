package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsUnique(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.NotEqual(t, a, b)
	assert.NoError(t, a.Validate())
	assert.NoError(t, b.Validate())
}

func TestParseID(t *testing.T) {
	original := NewID()

	parsed, err := ParseID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseIDRejectsInvalid(t *testing.T) {
	_, err := ParseID("")
	assert.Error(t, err)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}

func TestIDValidate(t *testing.T) {
	assert.NoError(t, NewID().Validate())
	assert.Error(t, ID("").Validate())
	assert.Error(t, ID("garbage").Validate())
}

func TestIDIsZero(t *testing.T) {
	assert.True(t, ID("").IsZero())
	assert.False(t, NewID().IsZero())
}

func TestIDJSONRoundTrip(t *testing.T) {
	original := NewID()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored ID
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, original, restored)
}

func TestZeroIDMarshalsAsNull(t *testing.T) {
	data, err := json.Marshal(ID(""))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestIDUnmarshalRejectsInvalid(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`"not-a-uuid"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`42`), &id))
}
