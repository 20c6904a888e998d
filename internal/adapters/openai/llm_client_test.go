package openai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBatchResponse(t *testing.T) {
	responseText := `{"results":[
		{"index":0,"category":"RECEIPTS","confidence":97,"reasoning":"order confirmation"},
		{"index":1,"category":"SPAM","confidence":88,"reasoning":"unsolicited offer"}
	]}`

	results, err := parseBatchResponse(responseText)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 0, results[0].Index)
	require.Equal(t, "RECEIPTS", results[0].Category)
	require.Equal(t, 97.0, results[0].Confidence)
	require.Equal(t, "order confirmation", results[0].Rationale)
	require.Equal(t, "SPAM", results[1].Category)
}

func TestParseBatchResponseExtractsEmbeddedJSON(t *testing.T) {
	responseText := "Here is the classification you asked for:\n" +
		`{"results":[{"index":0,"category":"UPDATES","confidence":70,"reasoning":"service alert"}]}` +
		"\nLet me know if you need anything else."

	results, err := parseBatchResponse(responseText)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "UPDATES", results[0].Category)
	require.Equal(t, 70.0, results[0].Confidence)
}

func TestParseBatchResponseRejectsGarbage(t *testing.T) {
	_, err := parseBatchResponse("I could not classify these emails")
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to extract JSON")
}
