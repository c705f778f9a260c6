package workspace

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/orchardhq/orchard/ident"
)

// Document is typed content within a workspace: an ordered sequence of
// blocks plus front-matter metadata. Documents are created, updated, and
// removed only through the staging Engine.
type Document struct {
	ID        ident.DocumentID
	Title     string
	Blocks    []Block
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type frontMatter struct {
	ID      string    `yaml:"id"`
	Title   string    `yaml:"title"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
	Tags    []string  `yaml:"tags,omitempty"`
}

// EncodeDocument renders doc to its on-disk text envelope: a YAML
// front-matter header followed by `---` and the blocks serialized as
// Markdown. Todo-lists are written as "- [ ]" / "- [x]" items and dividers
// as a "---" thematic break; callout, image and agent blocks, which
// goldmark cannot express natively, are written as fenced directive blocks
// so the file still renders sensibly in any Markdown viewer.
func EncodeDocument(doc Document) ([]byte, error) {
	fm := frontMatter{ID: string(doc.ID), Title: doc.Title, Created: doc.CreatedAt, Updated: doc.UpdatedAt, Tags: doc.Tags}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("workspace: encode front matter: %w", err)
	}

	var body strings.Builder
	for i, b := range doc.Blocks {
		if i > 0 {
			body.WriteString("\n")
		}
		body.WriteString(encodeBlock(b))
		body.WriteString("\n")
	}

	var out strings.Builder
	out.WriteString("---\n")
	out.Write(header)
	out.WriteString("---\n\n")
	out.WriteString(body.String())
	return []byte(out.String()), nil
}

func encodeBlock(b Block) string {
	switch v := b.(type) {
	case TextBlock:
		return v.Text
	case HeadingBlock:
		return strings.Repeat("#", clampHeadingLevel(v.Level)) + " " + v.Text
	case BulletListBlock:
		lines := make([]string, len(v.Items))
		for i, item := range v.Items {
			lines[i] = "- " + item
		}
		return strings.Join(lines, "\n")
	case NumberedListBlock:
		lines := make([]string, len(v.Items))
		for i, item := range v.Items {
			lines[i] = strconv.Itoa(i+1) + ". " + item
		}
		return strings.Join(lines, "\n")
	case TodoListBlock:
		lines := make([]string, len(v.Items))
		for i, item := range v.Items {
			mark := " "
			if item.Done {
				mark = "x"
			}
			lines[i] = fmt.Sprintf("- [%s] %s", mark, item.Text)
		}
		return strings.Join(lines, "\n")
	case CodeBlock:
		return "```" + v.Language + "\n" + v.Code + "\n```"
	case QuoteBlock:
		text := "> " + strings.ReplaceAll(v.Text, "\n", "\n> ")
		if v.Attribution != "" {
			text += "\n> — " + v.Attribution
		}
		return text
	case DividerBlock:
		return "---"
	case CalloutBlock:
		return fmt.Sprintf("```callout style=%q icon=%q\n%s\n```", v.Style, v.Icon, v.Text)
	case ImageBlock:
		return fmt.Sprintf("```image url=%q caption=%q\n```", v.URL, v.Caption)
	case AgentBlock:
		return fmt.Sprintf("```agent agent-id=%q\n%s\n```", v.AgentID, v.Text)
	default:
		return ""
	}
}

func clampHeadingLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 6 {
		return 6
	}
	return level
}

// DecodeDocument parses the on-disk text envelope produced by
// EncodeDocument back into a Document. The Markdown body is parsed with
// goldmark; the resulting AST is walked to recover the typed block
// sequence.
func DecodeDocument(raw []byte) (Document, error) {
	header, body, err := splitFrontMatter(raw)
	if err != nil {
		return Document{}, err
	}
	var fm frontMatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Document{}, fmt.Errorf("workspace: decode front matter: %w", err)
	}

	blocks, err := parseBlocks(body)
	if err != nil {
		return Document{}, err
	}

	return Document{
		ID:        ident.DocumentID(fm.ID),
		Title:     fm.Title,
		Blocks:    blocks,
		Tags:      fm.Tags,
		CreatedAt: fm.Created,
		UpdatedAt: fm.Updated,
	}, nil
}

func splitFrontMatter(raw []byte) (header, body []byte, err error) {
	s := string(raw)
	if !strings.HasPrefix(s, "---\n") {
		return nil, nil, fmt.Errorf("workspace: document missing front matter delimiter")
	}
	rest := s[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return nil, nil, fmt.Errorf("workspace: document front matter not terminated")
	}
	header = []byte(rest[:idx])
	body = []byte(strings.TrimPrefix(rest[idx+len("\n---\n"):], "\n"))
	return header, body, nil
}

func parseBlocks(body []byte) ([]Block, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(body))

	var blocks []Block
	child := doc.FirstChild()
	for child != nil {
		if b, ok := nodeToBlock(child, body); ok {
			blocks = append(blocks, b)
		}
		child = child.NextSibling()
	}
	return blocks, nil
}

func nodeToBlock(n ast.Node, src []byte) (Block, bool) {
	switch node := n.(type) {
	case *ast.Heading:
		return HeadingBlock{Level: node.Level, Text: nodeText(node, src)}, true
	case *ast.Paragraph:
		return directiveOrText(node, src)
	case *ast.List:
		return listBlock(node, src), true
	case *ast.Blockquote:
		return quoteBlock(node, src), true
	case *ast.ThematicBreak:
		return DividerBlock{}, true
	case *ast.FencedCodeBlock:
		return fencedBlock(node, src)
	}
	return nil, false
}

func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
	}
	return sb.String()
}

func directiveOrText(n *ast.Paragraph, src []byte) (Block, bool) {
	return TextBlock{Text: nodeText(n, src)}, true
}

func listBlock(n *ast.List, src []byte) Block {
	var items []string
	var todoItems []TodoItem
	isTodo := false
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		raw := strings.TrimSpace(itemText(item, src))
		if strings.HasPrefix(raw, "[x] ") || strings.HasPrefix(raw, "[ ] ") {
			isTodo = true
			todoItems = append(todoItems, TodoItem{Done: strings.HasPrefix(raw, "[x]"), Text: strings.TrimSpace(raw[4:])})
			continue
		}
		items = append(items, raw)
	}
	if isTodo {
		return TodoListBlock{Items: todoItems}
	}
	if n.IsOrdered() {
		return NumberedListBlock{Items: items}
	}
	return BulletListBlock{Items: items}
}

func itemText(n ast.Node, src []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(src))
			}
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func quoteBlock(n *ast.Blockquote, src []byte) Block {
	text := strings.TrimSpace(itemText(n, src))
	if idx := strings.LastIndex(text, "\n— "); idx >= 0 {
		return QuoteBlock{Text: strings.TrimSpace(text[:idx]), Attribution: strings.TrimSpace(text[idx+2:])}
	}
	return QuoteBlock{Text: text}
}

func fencedBlock(n *ast.FencedCodeBlock, src []byte) (Block, bool) {
	info := ""
	if n.Info != nil {
		info = string(n.Info.Segment.Value(src))
	}
	lang := string(n.Language(src))
	var code strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(src))
	}
	body := strings.TrimSuffix(code.String(), "\n")

	switch lang {
	case "callout":
		style, icon := parseDirectiveAttr(info, "style"), parseDirectiveAttr(info, "icon")
		return CalloutBlock{Style: style, Icon: icon, Text: body}, true
	case "image":
		url, caption := parseDirectiveAttr(info, "url"), parseDirectiveAttr(info, "caption")
		return ImageBlock{URL: url, Caption: caption}, true
	case "agent":
		agentID := parseDirectiveAttr(info, "agent-id")
		return AgentBlock{AgentID: agentID, Text: body}, true
	default:
		return CodeBlock{Language: lang, Code: body}, true
	}
}

func parseDirectiveAttr(s, key string) string {
	needle := key + `="`
	idx := strings.Index(s, needle)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(needle):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
