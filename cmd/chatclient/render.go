package main

import (
	"fmt"
	"html"
	"io"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/whisper/chat-client/internal/protocol"
)

// textPolicy strips all markup; the terminal shows plain text only.
var textPolicy = bluemonday.StrictPolicy()

// sanitize removes markup and control characters from server-provided text.
func sanitize(s string) string {
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// formatMessage renders one timeline line: "[15:04] author: text".
func formatMessage(m protocol.Message) string {
	var b strings.Builder
	if !m.CreatedAt.IsZero() {
		b.WriteString("[" + m.CreatedAt.Local().Format("15:04") + "] ")
	}
	author := sanitize(m.AuthorName)
	if author == "" {
		author = "?"
	}
	b.WriteString(author)
	b.WriteString(": ")
	b.WriteString(sanitize(m.Content))
	if m.IsEdited {
		b.WriteString(" (edited)")
	}
	b.WriteString("  #" + m.ID)
	return b.String()
}

func printChats(w io.Writer, chats []protocol.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "(no chats)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, c := range chats {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, sanitize(c.Name))
	}
	tw.Flush()
}
