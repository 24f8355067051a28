package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedRegistry() *Registry {
	return Default(WithClock(func() time.Time { return fixedNow }))
}

const chatGPTShare = `<!doctype html>
<html><head><title>Shared chat</title></head>
<body>
  <header><p>ChatGPT share header</p></header>
  <main>
    <div data-message-author-role="user"><div class="whitespace-pre-wrap">  How do I reverse a list?  </div></div>
    <div data-message-author-role="assistant"><div class="markdown"><p>Use <code>slices.Reverse</code>.</p></div></div>
    <div data-message-author-role="assistant">   </div>
    <div data-message-author-role="user">Thanks!</div>
  </main>
</body></html>`

func TestChatGPTRoleMarkedMessages(t *testing.T) {
	conv, err := fixedRegistry().Parse("ChatGPT", chatGPTShare)
	require.NoError(t, err)

	want := []conversation.Message{
		{Role: "user", Content: "How do I reverse a list?"},
		{Role: "assistant", Content: "Use slices.Reverse."},
		{Role: "user", Content: "Thanks!"},
	}
	assert.Equal(t, want, conv.Messages)
	assert.Equal(t,
		`<div class="chatgpt-conversation"><p class="user">How do I reverse a list?</p>`+
			`<p class="assistant">Use slices.Reverse.</p><p class="user">Thanks!</p></div>`,
		conv.Content)
	assert.Equal(t, "ChatGPT", conv.Model)
	assert.Equal(t, fixedNow, conv.ScrapedAt)
}

func TestRoleMarkedCountAndOrder(t *testing.T) {
	roles := []string{"user", "assistant", "system", "tool", "assistant", "user"}
	var b strings.Builder
	for i, role := range roles {
		fmt.Fprintf(&b, `<section><div data-message-author-role=%q>message %d</div></section>`, role, i)
	}

	conv, err := fixedRegistry().Parse("chatgpt", b.String())
	require.NoError(t, err)
	require.Len(t, conv.Messages, len(roles))
	for i, role := range roles {
		assert.Equal(t, role, conv.Messages[i].Role)
		assert.Equal(t, fmt.Sprintf("message %d", i), conv.Messages[i].Content)
	}
}

func TestEmptyRoleAttributeIsUnknown(t *testing.T) {
	conv, err := fixedRegistry().Parse("ChatGPT", `<div data-message-author-role="">orphan</div>`)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "unknown", conv.Messages[0].Role)
}

func TestParagraphFallback(t *testing.T) {
	raw := `<html><body><p>first</p><p>   </p><div><p>second <em>line</em></p></div><span>ignored</span><p>third</p></body></html>`

	conv, err := fixedRegistry().Parse("ChatGPT", raw)
	require.NoError(t, err)

	require.Len(t, conv.Messages, 3)
	for _, m := range conv.Messages {
		assert.Equal(t, conversation.DefaultRole, m.Role)
	}
	assert.Equal(t, "second line", conv.Messages[1].Content)
	assert.Equal(t,
		`<div class="chatgpt-conversation"><p class="user">first</p><p class="user">second line</p><p class="user">third</p></div>`,
		conv.Content)
}

func TestNoMessagesAtAll(t *testing.T) {
	conv, err := fixedRegistry().Parse("ChatGPT", `<html><body><div>nothing here</div></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
	assert.Equal(t, `<div class="chatgpt-conversation"></div>`, conv.Content)
}

func TestSourceBytesIsRawByteLength(t *testing.T) {
	raw := `<div data-message-author-role="user">héllo wörld ✓</div>`

	conv, err := fixedRegistry().Parse("ChatGPT", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), conv.SourceHTMLBytes)
	assert.NotEqual(t, int64(len(conv.Content)), conv.SourceHTMLBytes)
	// Multi-byte runes count as bytes, not characters.
	assert.Greater(t, conv.SourceHTMLBytes, int64(len([]rune(raw))))
}

func TestNormalizedContentIsEscaped(t *testing.T) {
	raw := `<div data-message-author-role="user">is a &lt; b &amp;&amp; b &lt; c?</div>`

	conv, err := fixedRegistry().Parse("ChatGPT", raw)
	require.NoError(t, err)
	assert.Equal(t, "is a < b && b < c?", conv.Messages[0].Content)
	assert.Contains(t, conv.Content, `is a &lt; b &amp;&amp; b &lt; c?`)
}

func TestClaudeFormat(t *testing.T) {
	raw := `<div class="conversation">
  <div data-testid="user-message"><p>Summarize this</p></div>
  <div class="font-claude-message"><p>Here is a summary.</p><p>Second paragraph.</p></div>
</div>`

	conv, err := fixedRegistry().Parse("Claude", raw)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "assistant", conv.Messages[1].Role)
	assert.True(t, strings.HasPrefix(conv.Content, `<div class="claude-conversation">`))
}

func TestNestedMarkersCountOnce(t *testing.T) {
	raw := `<div data-testid="user-message">Question</div>
<div data-is-streaming="false"><div class="font-claude-message">Answer</div></div>`

	conv, err := fixedRegistry().Parse("claude", raw)
	require.NoError(t, err)
	want := []conversation.Message{
		{Role: "user", Content: "Question"},
		{Role: "assistant", Content: "Answer"},
	}
	assert.Equal(t, want, conv.Messages)
	assert.Equal(t, "claude", conv.Model)
}

func TestGeminiFormat(t *testing.T) {
	raw := `<chat-window><user-query>What is Go?</user-query><model-response>A programming language.</model-response></chat-window>`

	conv, err := fixedRegistry().Parse("gemini", raw)
	require.NoError(t, err)
	assert.Equal(t, []conversation.Message{
		{Role: "user", Content: "What is Go?"},
		{Role: "assistant", Content: "A programming language."},
	}, conv.Messages)
	// Model keeps the caller's spelling.
	assert.Equal(t, "gemini", conv.Model)
}

func TestUnknownFormat(t *testing.T) {
	_, err := fixedRegistry().Parse("Bard", "<p>hi</p>")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownFormat)
}

func TestInvalidUTF8IsParseError(t *testing.T) {
	_, err := fixedRegistry().Parse("ChatGPT", "<p>\xff\xfe</p>")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestDeterministic(t *testing.T) {
	r := fixedRegistry()
	a, err := r.Parse("ChatGPT", chatGPTShare)
	require.NoError(t, err)
	b, err := r.Parse("ChatGPT", chatGPTShare)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRegistryFormatsAndReplace(t *testing.T) {
	r := fixedRegistry()
	assert.Equal(t, []string{"ChatGPT", "Claude", "Gemini"}, r.Formats())

	r.Register("Custom", NewMarkerParser("Custom", []RoleRule{{Selector: ".turn", RoleAttr: "data-who"}}))
	p, ok := r.Lookup("  CUSTOM ")
	require.True(t, ok)

	conv, err := p.Parse(`<div class="turn" data-who="bot">hey</div>`, "Custom")
	require.NoError(t, err)
	assert.Equal(t, "bot", conv.Messages[0].Role)
}

func BenchmarkParseChatGPT(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, `<div data-message-author-role="user"><p>question %d</p></div>`, i)
		fmt.Fprintf(&sb, `<div data-message-author-role="assistant"><p>answer %d with some more words</p></div>`, i)
	}
	raw := sb.String()
	r := fixedRegistry()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	for i := 0; i < b.N; i++ {
		if _, err := r.Parse("ChatGPT", raw); err != nil {
			b.Fatal(err)
		}
	}
}
