package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/ident"
)

func TestEncodeDecodeDocumentRoundTrip(t *testing.T) {
	doc := Document{
		ID:        ident.NewDocumentID(),
		Title:     "Weekly Sync",
		Tags:      []string{"ops", "weekly"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 3, 3, 4, 5, 0, time.UTC),
		Blocks: []Block{
			HeadingBlock{Level: 1, Text: "Weekly Sync"},
			TextBlock{Text: "Notes from the sync."},
			BulletListBlock{Items: []string{"item one", "item two"}},
			NumberedListBlock{Items: []string{"first", "second"}},
			TodoListBlock{Items: []TodoItem{{Text: "follow up", Done: false}, {Text: "done thing", Done: true}}},
			CodeBlock{Language: "go", Code: "fmt.Println(\"hi\")"},
			QuoteBlock{Text: "measure twice", Attribution: "a carpenter"},
			DividerBlock{},
			CalloutBlock{Style: "warning", Icon: "alert", Text: "careful here"},
			ImageBlock{URL: "https://example.com/a.png", Caption: "a diagram"},
			AgentBlock{AgentID: "scheduler-1", Text: "auto-generated summary"},
		},
	}

	raw, err := EncodeDocument(doc)
	require.NoError(t, err)

	decoded, err := DecodeDocument(raw)
	require.NoError(t, err)

	require.Equal(t, doc.ID, decoded.ID)
	require.Equal(t, doc.Title, decoded.Title)
	require.Equal(t, doc.Tags, decoded.Tags)
	require.True(t, doc.CreatedAt.Equal(decoded.CreatedAt))
	require.Len(t, decoded.Blocks, len(doc.Blocks))

	require.Equal(t, HeadingBlock{Level: 1, Text: "Weekly Sync"}, decoded.Blocks[0])
	require.Equal(t, BulletListBlock{Items: []string{"item one", "item two"}}, decoded.Blocks[2])
	require.Equal(t, NumberedListBlock{Items: []string{"first", "second"}}, decoded.Blocks[3])
	require.Equal(t, CodeBlock{Language: "go", Code: "fmt.Println(\"hi\")"}, decoded.Blocks[5])
	require.Equal(t, DividerBlock{}, decoded.Blocks[7])
	require.Equal(t, CalloutBlock{Style: "warning", Icon: "alert", Text: "careful here"}, decoded.Blocks[8])
	require.Equal(t, ImageBlock{URL: "https://example.com/a.png", Caption: "a diagram"}, decoded.Blocks[9])
	require.Equal(t, AgentBlock{AgentID: "scheduler-1", Text: "auto-generated summary"}, decoded.Blocks[10])
}

func TestEncodeHeadingLevelClamped(t *testing.T) {
	require.Equal(t, "# too low", encodeBlock(HeadingBlock{Level: 0, Text: "too low"}))
	require.Equal(t, "###### too high", encodeBlock(HeadingBlock{Level: 9, Text: "too high"}))
}
