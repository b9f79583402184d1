package points

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Points Amount `json:"points"`
	}{Points: FromFloat(12.5)})
	require.NoError(t, err)
	require.JSONEq(t, `{"points":12.50}`, string(b))

	var decoded struct {
		Points Amount `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"points":3.333}`), &decoded))
	require.Equal(t, Amount(333), decoded.Points)

	require.NoError(t, json.Unmarshal([]byte(`{"points":"7"}`), &decoded))
	require.Equal(t, Whole(7), decoded.Points)
}

func TestAmountScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan(int64(150)))
	require.Equal(t, "1.50", a.String())

	require.NoError(t, a.Scan([]byte("42")))
	require.Equal(t, Amount(42), a)

	require.Error(t, a.Scan(true))
}

func TestAmountNonNegative(t *testing.T) {
	require.Equal(t, Amount(0), Amount(-5).NonNegative())
	require.Equal(t, Amount(5), Amount(5).NonNegative())
}
