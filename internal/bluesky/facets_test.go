package bluesky

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]string

func (m mapResolver) ResolveHandle(_ context.Context, handle string) (string, error) {
	did, ok := m[handle]
	if !ok {
		return "", &APIError{NSID: nsidResolveHandle, StatusCode: 400, Code: "InvalidRequest"}
	}
	return did, nil
}

type canceledResolver struct{}

func (canceledResolver) ResolveHandle(context.Context, string) (string, error) {
	return "", context.Canceled
}

func TestDetectSpans(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []span
	}{
		{
			name: "url with trailing period",
			text: "see https://example.com/a.",
			want: []span{{spanLink, 4, 25, "https://example.com/a"}},
		},
		{
			name: "url in parentheses",
			text: "(https://example.com/x)",
			want: []span{{spanLink, 1, 22, "https://example.com/x"}},
		},
		{
			name: "bare domain",
			text: "visit example.com today",
			want: []span{{spanLink, 6, 17, "https://example.com"}},
		},
		{
			name: "not domains",
			text: "version v1.2 and file.txt",
			want: nil,
		},
		{
			name: "mention",
			text: "hi @alice.bsky.social!",
			want: []span{{spanMention, 3, 21, "alice.bsky.social"}},
		},
		{
			name: "mention with unknown suffix",
			text: "hi @alice.notatld",
			want: nil,
		},
		{
			name: "email address",
			text: "email me@example.com",
			want: nil,
		},
		{
			name: "hashtags",
			text: "#golang and #go. #123 #日本語",
			want: []span{
				{spanTag, 0, 7, "golang"},
				{spanTag, 12, 15, "go"},
				{spanTag, 22, 32, "日本語"},
			},
		},
		{
			name: "full width hash",
			text: "full-width ＃tag",
			want: []span{{spanTag, 11, 17, "tag"}},
		},
		{
			name: "hash inside word",
			text: "a#notag",
			want: nil,
		},
		{
			name: "mixed in order",
			text: "#news by @alice.bsky.social https://example.com/p",
			want: []span{
				{spanTag, 0, 5, "news"},
				{spanMention, 9, 27, "alice.bsky.social"},
				{spanLink, 28, 49, "https://example.com/p"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectSpans(tt.text))
		})
	}
}

func TestDetectFacetsResolvesMentions(t *testing.T) {
	text := "hi @alice.bsky.social and @ghost.example.com"
	r := mapResolver{"alice.bsky.social": "did:plc:alice"}

	facets, err := DetectFacets(context.Background(), text, r)
	require.NoError(t, err)

	require.Len(t, facets, 1, "unresolvable mention is dropped")
	assert.Equal(t, ByteSlice{ByteStart: 3, ByteEnd: 21}, facets[0].Index)
	assert.Equal(t, []Feature{{Type: FeatureMention, DID: "did:plc:alice"}}, facets[0].Features)
}

func TestDetectFacetsWithoutResolverSkipsMentions(t *testing.T) {
	facets, err := DetectFacets(context.Background(), "@alice.bsky.social #tag", nil)
	require.NoError(t, err)

	require.Len(t, facets, 1)
	assert.Equal(t, FeatureTag, facets[0].Features[0].Type)
}

func TestDetectFacetsNoneFound(t *testing.T) {
	facets, err := DetectFacets(context.Background(), "plain words only", nil)
	require.NoError(t, err)
	assert.Nil(t, facets)
}

func TestDetectFacetsStopsOnCancel(t *testing.T) {
	_, err := DetectFacets(context.Background(), "cc @alice.bsky.social", canceledResolver{})
	assert.True(t, errors.Is(err, context.Canceled))
}
