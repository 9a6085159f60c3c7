package share

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAnyCoreContent(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    bool
	}{
		{"empty", Payload{}, false},
		{"message", Payload{Message: "hello"}, true},
		{"link", Payload{Link: "https://example.com"}, true},
		{"image url", Payload{ImageURL: "https://example.com/a.jpg"}, true},
		{"video url", Payload{VideoURL: "https://example.com/a.mp4"}, true},
		{"media ids", Payload{MediaIDs: []string{"42"}}, true},
		{"media sources", Payload{MediaSources: []MediaSource{{Source: "./a.jpg"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.payload.HasAnyCoreContent())
		})
	}
}

func TestAppendUniqueMediaSource(t *testing.T) {
	var list []MediaSource

	list = AppendUniqueMediaSource(list, MediaSource{Source: "./a.jpg", Type: "Image"})
	list = AppendUniqueMediaSource(list, MediaSource{Source: "./a.jpg", Type: "image"})
	list = AppendUniqueMediaSource(list, MediaSource{Source: "./a.jpg", Type: "video"})
	list = AppendUniqueMediaSource(list, MediaSource{Source: "", Type: "image"})

	assert.Equal(t, []MediaSource{
		{Source: "./a.jpg", Type: "image"},
		{Source: "./a.jpg", Type: "video"},
	}, list)
}

func TestAppendUniqueMediaSourceIdempotent(t *testing.T) {
	list := AppendUniqueMediaSource(nil, MediaSource{Source: "x.png"})
	again := AppendUniqueMediaSource(list, MediaSource{Source: "x.png"})
	assert.Len(t, again, 1)
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "a\nb", JoinNonEmpty("\n", "a", "b"))
	assert.Equal(t, "a", JoinNonEmpty("\n", "a", ""))
	assert.Equal(t, "b", JoinNonEmpty("\n", "", "b"))
	assert.Equal(t, "", JoinNonEmpty("\n", "", "  "))
}

func TestRawMap(t *testing.T) {
	assert.Nil(t, RawMap(nil))
	assert.Equal(t, map[string]any{"id": "1"}, RawMap([]byte(`{"id":"1"}`)))
	assert.Equal(t, map[string]any{"body": "not json"}, RawMap([]byte("not json")))
}

func TestParseProvider(t *testing.T) {
	for token, want := range map[string]Provider{
		"fb": Facebook, "FaceBook": Facebook,
		"ig": Instagram, "instagram": Instagram,
		"x": Twitter, "twitter": Twitter,
		"li": LinkedIn, " linkedin ": LinkedIn,
	} {
		got, err := ParseProvider(token)
		assert.NoError(t, err, token)
		assert.Equal(t, want, got, token)
	}

	_, err := ParseProvider("myspace")
	assert.ErrorContains(t, err, "unknown provider")
}
