package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_CreateRoundTrip(t *testing.T) {
	msg := NewCreate("a/b.txt", 100.5, []byte("hello"))

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"CREATE"`)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	create, ok := decoded.Data.(Create)
	require.True(t, ok)
	assert.Equal(t, "a/b.txt", create.Path)
	assert.Equal(t, 100.5, create.Mtime)
	assert.Equal(t, []byte("hello"), create.Bytes)
}

func TestMessage_DirStateRoundTrip(t *testing.T) {
	msg := NewDirState([]FileStat{
		{Path: "x.txt", Mtime: 1, Size: 3, Sig: []byte{1, 2, 3}},
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	ds, ok := decoded.Data.(DirState)
	require.True(t, ok)
	require.Len(t, ds.Files, 1)
	assert.Equal(t, "x.txt", ds.Files[0].Path)
}

func TestMessage_RenameRoundTrip(t *testing.T) {
	msg := NewRename("foo", "bar", 400)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	rn, ok := decoded.Data.(Rename)
	require.True(t, ok)
	assert.Equal(t, "foo", rn.Src)
	assert.Equal(t, "bar", rn.Dst)
	assert.Equal(t, float64(400), rn.Mtime)
}

func TestMessage_IDIsAssignedAndRoundTrips(t *testing.T) {
	a := NewCreate("a.txt", 1, []byte("x"))
	b := NewCreate("a.txt", 1, []byte("x"))
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, a.ID, decoded.ID)
}

func TestMessage_UnknownType(t *testing.T) {
	var decoded Message
	err := json.Unmarshal([]byte(`{"type":"BOGUS"}`), &decoded)
	assert.Error(t, err)
}

func TestMessage_BeaconAndDelete(t *testing.T) {
	b := NewBeacon(6000)
	data, err := json.Marshal(b)
	require.NoError(t, err)
	var db Message
	require.NoError(t, json.Unmarshal(data, &db))
	beacon, ok := db.Data.(Beacon)
	require.True(t, ok)
	assert.EqualValues(t, 6000, beacon.Port)

	d := NewDelete("gone.txt", 55)
	data, err = json.Marshal(d)
	require.NoError(t, err)
	var dd Message
	require.NoError(t, json.Unmarshal(data, &dd))
	del, ok := dd.Data.(Delete)
	require.True(t, ok)
	assert.Equal(t, "gone.txt", del.Path)
}
