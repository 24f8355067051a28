package parser

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

// Built-in format labels.
const (
	FormatChatGPT = "ChatGPT"
	FormatClaude  = "Claude"
	FormatGemini  = "Gemini"
)

type entry struct {
	name   string
	parser Parser
}

// Registry maps format labels to parsers. Lookups ignore case.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]entry)}
}

// Default returns a registry with every built-in format registered.
func Default(opts ...Option) *Registry {
	r := NewRegistry()
	r.Register(FormatChatGPT, NewMarkerParser(FormatChatGPT, []RoleRule{
		{Selector: "[data-message-author-role]", RoleAttr: "data-message-author-role"},
	}, opts...))
	r.Register(FormatClaude, NewMarkerParser(FormatClaude, []RoleRule{
		{Selector: `[data-testid="user-message"]`, Role: "user"},
		{Selector: ".font-claude-message", Role: "assistant"},
		{Selector: "[data-is-streaming]", Role: "assistant"},
	}, opts...))
	r.Register(FormatGemini, NewMarkerParser(FormatGemini, []RoleRule{
		{Selector: "user-query", Role: "user"},
		{Selector: "model-response", Role: "assistant"},
	}, opts...))
	return r
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[strings.ToLower(format)] = entry{name: format, parser: p}
}

// Lookup returns the parser registered for format.
func (r *Registry) Lookup(format string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.parsers[strings.ToLower(strings.TrimSpace(format))]
	return e.parser, ok
}

// Parse selects the parser for format and runs it. The resulting
// conversation's Model is format exactly as supplied.
func (r *Registry) Parse(format string, raw string) (*conversation.Conversation, error) {
	p, ok := r.Lookup(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownFormat, format)
	}
	return p.Parse(raw, format)
}

// Formats returns the registered format names, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parsers))
	for _, e := range r.parsers {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}
