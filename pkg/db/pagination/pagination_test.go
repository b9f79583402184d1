package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2025-03-01T00:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "42", cursor.ID)
	require.Equal(t, "2025-03-01T00:00:00Z", cursor.CreatedAt)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("!!not-base64!!")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	ids := []int{1, 2, 3}
	rows := make([]*int, 0, len(ids))
	for i := range ids {
		rows = append(rows, &ids[i])
	}
	extract := func(v *int) string {
		if *v == 2 {
			return "two"
		}
		return "other"
	}

	page, info := BuildCursorPageInfo(rows, 2, extract)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)
	require.Equal(t, "two", info.NextPageToken)

	page, info = BuildCursorPageInfo(rows, 5, extract)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}
