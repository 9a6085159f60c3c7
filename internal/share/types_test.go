package share

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultJSONRoundTrip(t *testing.T) {
	in := Result{
		Provider: Facebook,
		ID:       "123_456",
		URL:      "https://www.facebook.com/123_456",
		Raw:      map[string]any{"id": "123_456", "published": true},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Result
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestResultJSONOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Result{Provider: Twitter, ID: "9000"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider":"twitter","id":"9000"}`, string(data))
}

func TestCommentResultJSONRoundTrip(t *testing.T) {
	in := CommentResult{
		Provider: LinkedIn,
		ID:       "cmt1",
		PostID:   "urn:li:share:42",
		Raw:      map[string]any{"id": "cmt1"},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out CommentResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
