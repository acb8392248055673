package dbtypes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDArrayValueAndScan(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	arr := UUIDArray{a, b}

	value, err := arr.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"`+a.String()+`","`+b.String()+`"}`, value)

	var scanned UUIDArray
	require.NoError(t, scanned.Scan([]byte(value.(string))))
	assert.Equal(t, arr, scanned)
	assert.True(t, scanned.Contains(b))
	assert.False(t, scanned.Contains(uuid.New()))

	var unquoted UUIDArray
	require.NoError(t, unquoted.Scan("{"+a.String()+"}"))
	assert.Equal(t, UUIDArray{a}, unquoted)

	var empty UUIDArray
	require.NoError(t, empty.Scan("{}"))
	assert.Empty(t, empty)
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)

	assert.Error(t, empty.Scan(42))
	assert.Error(t, empty.Scan("{not-a-uuid}"))
}

func TestJSONPayloadRoundTrip(t *testing.T) {
	payload := JSONPayload(`{"order_id":"o-1"}`)
	value, err := payload.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"order_id":"o-1"}`, value)

	var scanned JSONPayload
	require.NoError(t, scanned.Scan(value))
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(scanned))

	_, err = JSONPayload(`{broken`).Value()
	assert.Error(t, err)

	value, err = JSONPayload(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}
