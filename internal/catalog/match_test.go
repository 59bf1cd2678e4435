package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotate(t *testing.T) {
	local := []Entry{
		{ID: 1, Name: "A - One", Checksum: "AA"},
		{ID: 2, Name: "B - Two", Checksum: "BB"},
	}
	remote := []Entry{
		{ID: 2, Name: "B - Two", Checksum: "B2"},
		{ID: 1, Name: "A - One", Checksum: "AA"},
		{ID: 1, Name: "A - Other", Checksum: "AA"},
	}

	got := Annotate(remote, local)
	require.Len(t, got, 3)
	assert.Equal(t, Similar, got[0].Kind)
	assert.Equal(t, Direct, got[1].Kind)
	assert.Equal(t, Missing, got[2].Kind)
	assert.Equal(t, remote[2], got[2].Entry)
}

func TestMissingFrom(t *testing.T) {
	local := fixture[:4]
	remote := []Entry{fixture[5], fixture[1], fixture[9]}

	assert.Equal(t, []Entry{fixture[5], fixture[9]}, MissingFrom(local, remote))
	assert.Empty(t, MissingFrom(fixture, fixture))
}

func TestMatchKindJSON(t *testing.T) {
	data, err := json.Marshal(Match{Entry: Entry{ID: 3, Name: "C - D", Checksum: "CC"}, Kind: Similar})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":{"id":3,"name":"C - D","checksum":"CC"},"kind":"similar"}`, string(data))
}
