package index

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/finrag/internal/store"
)

// ContextualText is the text a chunk is indexed and embedded under: a short
// pattern-based prefix naming its document, section and element type,
// followed by the chunk text. Stored chunk text stays unprefixed so
// snippets quote the report verbatim.
//
// A table cell such as "| Portugal | 23.2 |" carries no hint that it is a
// variable cost under "1.1 Cement"; the prefix gives lexical and vector
// search that context.
func ContextualText(c *store.Chunk, title string) string {
	prefix := contextPrefix(c, title)
	if prefix == "" {
		return c.Text
	}
	return prefix + "\n\n" + c.Text
}

func contextPrefix(c *store.Chunk, title string) string {
	var parts []string

	doc := strings.TrimSpace(title)
	if doc == "" {
		doc = c.DocumentID
	}
	if doc != "" {
		parts = append(parts, fmt.Sprintf("From %s, page %d", doc, c.PageNumber))
	}
	if s := strings.TrimSpace(c.SectionTitle); s != "" {
		parts = append(parts, "Section: "+s)
	}
	switch c.ElementType {
	case store.ElementTable:
		parts = append(parts, "Table")
	case store.ElementTableSummary:
		parts = append(parts, "Table summary")
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}
