package api

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"

	"github.com/clerk-agent/clerk/internal/transcript"
)

// renderHistoryHTML renders a conversation as a standalone HTML page.
// Assistant messages are markdown and get converted; user messages are
// shown verbatim.
func renderHistoryHTML(messages []*transcript.Message) (string, error) {
	var body bytes.Buffer

	for _, m := range messages {
		fmt.Fprintf(&body, `<div class="message %s">`+"\n", html.EscapeString(m.Sender))
		fmt.Fprintf(&body, `<div class="meta">%s · %s</div>`+"\n",
			html.EscapeString(m.Sender), m.Timestamp.Format("2006-01-02 15:04"))

		if m.Sender == transcript.SenderAssistant {
			var rendered bytes.Buffer
			if err := goldmark.Convert([]byte(m.Content), &rendered); err != nil {
				return "", fmt.Errorf("render message %s: %w", m.ID, err)
			}
			body.WriteString(`<div class="content">` + rendered.String() + "</div>\n")
		} else {
			body.WriteString(`<div class="content"><p>` + html.EscapeString(m.Content) + "</p></div>\n")
		}

		body.WriteString("</div>\n")
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation</title>
<style>
body { font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48rem; margin: 2rem auto; }
.message { margin-bottom: 1.5rem; }
.message.user .content { background: #eef2f7; border-radius: 6px; padding: 0.5rem 0.75rem; }
.meta { color: #667; font-size: 12px; margin-bottom: 0.25rem; }
pre { background: #f4f4f4; padding: 0.5rem; overflow-x: auto; }
</style>
</head>
<body>
%s</body></html>`, body.String())

	return page, nil
}
