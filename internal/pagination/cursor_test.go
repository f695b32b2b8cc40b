package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	encoded := Encode(ts, "scan_1710408413000_ab12")

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.Timestamp.Equal(ts))
	assert.Equal(t, "scan_1710408413000_ab12", cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	for _, raw := range []string{"not-base64!", "aGVsbG8=", "fHw="} {
		_, err := Decode(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestComputePage_NoMore(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Time{}, s
	})
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Time{}, s
	})
	require.Len(t, result, 3)
	assert.True(t, hasMore)

	decoded, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "c", decoded.ID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Time{}, s
	})
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
