// Package parser turns exported chat transcripts into normalized
// conversations. Every source format is a Parser registered under its format
// label; formats that differ only in how they mark message authors share
// MarkerParser and supply their own RoleRules.
package parser

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

// Parser extracts a conversation from one source format.
type Parser interface {
	// Parse converts raw markup into a Conversation labelled with model.
	Parse(raw string, model string) (*conversation.Conversation, error)
}

// RoleRule marks elements matching Selector as messages. The role is Role,
// or the value of attribute RoleAttr when RoleAttr is set.
type RoleRule struct {
	Selector string
	Role     string
	RoleAttr string
}

// unknownRole is used when a RoleAttr rule matches an element whose
// attribute is empty.
const unknownRole = "unknown"

// fallbackSelector is scanned when a document carries no role markers.
const fallbackSelector = "p"

// MarkerParser implements the two-tier extraction: role-marked elements in
// document order, falling back to paragraphs with the default role.
type MarkerParser struct {
	class    string
	rules    []RoleRule
	selector string
	now      func() time.Time
}

// Option configures a MarkerParser.
type Option func(*MarkerParser)

// WithClock overrides the clock used for ScrapedAt.
func WithClock(now func() time.Time) Option {
	return func(p *MarkerParser) {
		if now != nil {
			p.now = now
		}
	}
}

// NewMarkerParser builds a parser for format using rules. The format name,
// lower-cased, becomes the wrapper class of the normalized markup.
func NewMarkerParser(format string, rules []RoleRule, opts ...Option) *MarkerParser {
	selectors := make([]string, 0, len(rules))
	for _, r := range rules {
		selectors = append(selectors, r.Selector)
	}
	p := &MarkerParser{
		class:    strings.ToLower(format) + "-conversation",
		rules:    rules,
		selector: strings.Join(selectors, ", "),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements Parser.
func (p *MarkerParser) Parse(raw string, model string) (*conversation.Conversation, error) {
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", apperrors.ErrParse)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}

	messages := p.extractMarked(doc)
	if len(messages) == 0 {
		messages = extractParagraphs(doc)
	}

	return &conversation.Conversation{
		Model:           model,
		ScrapedAt:       p.now(),
		SourceHTMLBytes: int64(len(raw)),
		Content:         p.render(messages),
		Messages:        messages,
	}, nil
}

func (p *MarkerParser) extractMarked(doc *goquery.Document) []conversation.Message {
	var messages []conversation.Message
	if p.selector == "" {
		return messages
	}
	doc.Find(p.selector).Each(func(_ int, s *goquery.Selection) {
		// Only the outermost marker counts; nested markers are part of its text.
		if s.ParentsFiltered(p.selector).Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		messages = append(messages, conversation.Message{Role: p.roleOf(s), Content: text})
	})
	return messages
}

// roleOf returns the role of the first rule s matches.
func (p *MarkerParser) roleOf(s *goquery.Selection) string {
	for _, rule := range p.rules {
		if !s.Is(rule.Selector) {
			continue
		}
		if rule.RoleAttr == "" {
			return rule.Role
		}
		if role := strings.TrimSpace(s.AttrOr(rule.RoleAttr, "")); role != "" {
			return role
		}
		return unknownRole
	}
	return unknownRole
}

func extractParagraphs(doc *goquery.Document) []conversation.Message {
	var messages []conversation.Message
	doc.Find(fallbackSelector).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			messages = append(messages, conversation.Message{Role: conversation.DefaultRole, Content: text})
		}
	})
	return messages
}

func (p *MarkerParser) render(messages []conversation.Message) string {
	var b strings.Builder
	b.WriteString(`<div class="`)
	b.WriteString(html.EscapeString(p.class))
	b.WriteString(`">`)
	for _, m := range messages {
		b.WriteString(`<p class="`)
		b.WriteString(html.EscapeString(m.Role))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(m.Content))
		b.WriteString(`</p>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}
