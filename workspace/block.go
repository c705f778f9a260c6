package workspace

// BlockType names one of the typed document block kinds named in the
// workspace on-disk layout.
type BlockType string

const (
	BlockText         BlockType = "text"
	BlockHeading      BlockType = "heading"
	BlockBulletList   BlockType = "bullet-list"
	BlockNumberedList BlockType = "numbered-list"
	BlockTodoList     BlockType = "todo-list"
	BlockCode         BlockType = "code"
	BlockQuote        BlockType = "quote"
	BlockDivider      BlockType = "divider"
	BlockCallout      BlockType = "callout"
	BlockImage        BlockType = "image"
	BlockAgent        BlockType = "agent"
)

// Block is a marker interface implemented by every typed document block.
type Block interface {
	Type() BlockType
}

// TextBlock is a plain text paragraph.
type TextBlock struct{ Text string }

// HeadingBlock is a heading at Level (1-6).
type HeadingBlock struct {
	Level int
	Text  string
}

// BulletListBlock is an unordered list.
type BulletListBlock struct{ Items []string }

// NumberedListBlock is an ordered list.
type NumberedListBlock struct{ Items []string }

// TodoItem is a single checkbox item within a TodoListBlock.
type TodoItem struct {
	Text string
	Done bool
}

// TodoListBlock is a checklist.
type TodoListBlock struct{ Items []TodoItem }

// CodeBlock is a fenced code block. Language is optional.
type CodeBlock struct {
	Language string
	Code     string
}

// QuoteBlock is a blockquote. Attribution is optional.
type QuoteBlock struct {
	Text        string
	Attribution string
}

// DividerBlock is a horizontal rule separating sections.
type DividerBlock struct{}

// CalloutBlock is a highlighted aside with a style (e.g. "info", "warning")
// and an optional icon name.
type CalloutBlock struct {
	Style string
	Icon  string
	Text  string
}

// ImageBlock embeds an image with an optional caption.
type ImageBlock struct {
	URL     string
	Caption string
}

// AgentBlock is a block of content attributed to a specific agent's
// contribution within a collaboratively edited document.
type AgentBlock struct {
	AgentID string
	Text    string
}

func (TextBlock) Type() BlockType         { return BlockText }
func (HeadingBlock) Type() BlockType      { return BlockHeading }
func (BulletListBlock) Type() BlockType   { return BlockBulletList }
func (NumberedListBlock) Type() BlockType { return BlockNumberedList }
func (TodoListBlock) Type() BlockType     { return BlockTodoList }
func (CodeBlock) Type() BlockType         { return BlockCode }
func (QuoteBlock) Type() BlockType        { return BlockQuote }
func (DividerBlock) Type() BlockType      { return BlockDivider }
func (CalloutBlock) Type() BlockType      { return BlockCallout }
func (ImageBlock) Type() BlockType        { return BlockImage }
func (AgentBlock) Type() BlockType        { return BlockAgent }
