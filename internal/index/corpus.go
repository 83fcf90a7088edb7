package index

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/search"
	"github.com/Aman-CERP/finrag/internal/store"
)

// Corpus is the YAML layout of a pre-parsed corpus. Parsing PDFs into
// chunks and table rows happens upstream; a corpus file is its output.
//
//	documents:
//	  - id: monthly-report-2025-08
//	    chunks:
//	      - id: m-p4-t0
//	        page: 4
//	        section: 1.1 Cement
//	        element_type: table
//	        text: "| Portugal | 23.2 |"
//	    rows:
//	      - page: 4
//	        entity: Portugal
//	        metric: variable cost
//	        period: Aug-25
//	        value: "23.2"
//	        unit: EUR/ton
//	entities:
//	  - canonical_name: Portugal Cement
//	    raw_mentions: [Portugal, Secil]
type Corpus struct {
	Documents []CorpusDocument      `yaml:"documents"`
	Entities  []store.EntityMapping `yaml:"entities"`
}

// CorpusDocument is one parsed report.
type CorpusDocument struct {
	ID     string        `yaml:"id"`
	Title  string        `yaml:"title"`
	Chunks []CorpusChunk `yaml:"chunks"`
	Rows   []CorpusRow   `yaml:"rows"`
}

// CorpusChunk is one text element of a document.
type CorpusChunk struct {
	ID          string `yaml:"id"`
	Page        int    `yaml:"page"`
	Section     string `yaml:"section"`
	ElementType string `yaml:"element_type"`
	Parent      string `yaml:"parent"`
	Text        string `yaml:"text"`
}

// CorpusRow is one fact extracted from a table.
type CorpusRow struct {
	Page       int    `yaml:"page"`
	TableIndex int    `yaml:"table_index"`
	Entity     string `yaml:"entity"`
	Normalized string `yaml:"entity_normalized"`
	Metric     string `yaml:"metric"`
	Period     string `yaml:"period"`
	FiscalYear int    `yaml:"fiscal_year"`
	Value      string `yaml:"value"`
	Unit       string `yaml:"unit"`
	Section    string `yaml:"section"`
	ChunkText  string `yaml:"chunk_text"`
}

// LoadCorpus reads and validates a corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.ValidationError("failed to read corpus file", err).WithDetail("path", path)
	}
	c, err := ParseCorpus(data)
	if err != nil {
		var fe *ferrors.FinragError
		if errors.As(err, &fe) {
			fe.WithDetail("path", path)
		}
		return nil, err
	}
	return c, nil
}

// ParseCorpus parses and validates corpus YAML.
func ParseCorpus(data []byte) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, ferrors.ValidationError("failed to parse corpus YAML", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids, pages and required row fields, rewrites row periods
// to the canonical form queries use ("August 2025" becomes "Aug-25"), and
// fills defaults: element type paragraph, fiscal year from the period, and
// a table line as row chunk text.
func (c *Corpus) Validate() error {
	if len(c.Documents) == 0 {
		return ferrors.ValidationError("corpus has no documents", nil)
	}

	docs := make(map[string]bool, len(c.Documents))
	chunkIDs := make(map[string]bool)
	for di := range c.Documents {
		d := &c.Documents[di]
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return invalid(fmt.Sprintf("document %d has no id", di))
		}
		if docs[d.ID] {
			return invalid("duplicate document id " + d.ID)
		}
		docs[d.ID] = true

		for ci := range d.Chunks {
			ch := &d.Chunks[ci]
			if ch.ID == "" {
				return invalid(fmt.Sprintf("%s: chunk %d has no id", d.ID, ci))
			}
			if chunkIDs[ch.ID] {
				return invalid("duplicate chunk id " + ch.ID)
			}
			chunkIDs[ch.ID] = true
			if ch.Page < 1 {
				return invalid(fmt.Sprintf("%s: chunk %s has page %d", d.ID, ch.ID, ch.Page))
			}
			if strings.TrimSpace(ch.Text) == "" {
				return invalid(fmt.Sprintf("%s: chunk %s has no text", d.ID, ch.ID))
			}
			if ch.ElementType == "" {
				ch.ElementType = string(store.ElementParagraph)
			}
			if !store.ElementType(ch.ElementType).Valid() {
				return invalid(fmt.Sprintf("%s: chunk %s has unknown element type %q", d.ID, ch.ID, ch.ElementType))
			}
		}

		for ri := range d.Rows {
			r := &d.Rows[ri]
			if r.Page < 1 {
				return invalid(fmt.Sprintf("%s: row %d has page %d", d.ID, ri, r.Page))
			}
			if r.Entity == "" || r.Metric == "" || r.Period == "" || r.Value == "" {
				return invalid(fmt.Sprintf("%s: row %d needs entity, metric, period and value", d.ID, ri))
			}
			periods := search.ExtractPeriods(r.Period)
			if len(periods) != 1 {
				return invalid(fmt.Sprintf("%s: row %d period %q is not a single recognizable period", d.ID, ri, r.Period))
			}
			r.Period = periods[0]
			if r.FiscalYear == 0 {
				r.FiscalYear, _ = search.FiscalYearOf(r.Period)
			}
			if r.ChunkText == "" {
				r.ChunkText = fmt.Sprintf("| %s | %s | %s %s |", r.Entity, r.Period, r.Value, r.Unit)
			}
		}
	}

	// Parents are checked once every chunk id is known.
	for _, d := range c.Documents {
		for _, ch := range d.Chunks {
			if ch.Parent != "" && !chunkIDs[ch.Parent] {
				return invalid(fmt.Sprintf("%s: chunk %s references unknown parent %s", d.ID, ch.ID, ch.Parent))
			}
		}
	}

	names := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if strings.TrimSpace(e.CanonicalName) == "" {
			return invalid(fmt.Sprintf("entity %d has no canonical_name", i))
		}
		if names[e.CanonicalName] {
			return invalid("duplicate canonical_name " + e.CanonicalName)
		}
		names[e.CanonicalName] = true
	}
	return nil
}

func invalid(msg string) error {
	return ferrors.ValidationError("invalid corpus: "+msg, nil)
}

// ChunkCount returns the number of chunks across documents.
func (c *Corpus) ChunkCount() int {
	n := 0
	for _, d := range c.Documents {
		n += len(d.Chunks)
	}
	return n
}

// RowCount returns the number of structured rows across documents.
func (c *Corpus) RowCount() int {
	n := 0
	for _, d := range c.Documents {
		n += len(d.Rows)
	}
	return n
}

func (d *CorpusDocument) storeChunks() []*store.Chunk {
	out := make([]*store.Chunk, 0, len(d.Chunks))
	for _, ch := range d.Chunks {
		out = append(out, &store.Chunk{
			ID:            ch.ID,
			Text:          ch.Text,
			DocumentID:    d.ID,
			PageNumber:    ch.Page,
			SectionTitle:  ch.Section,
			ElementType:   store.ElementType(ch.ElementType),
			ParentChunkID: ch.Parent,
		})
	}
	return out
}

func (d *CorpusDocument) storeRows() []*store.StructuredRow {
	out := make([]*store.StructuredRow, 0, len(d.Rows))
	for _, r := range d.Rows {
		row := &store.StructuredRow{
			DocumentID:     d.ID,
			PageNumber:     r.Page,
			TableIndex:     r.TableIndex,
			EntityRaw:      r.Entity,
			Metric:         r.Metric,
			Period:         r.Period,
			FiscalYear:     r.FiscalYear,
			Value:          r.Value,
			Unit:           r.Unit,
			ChunkText:      r.ChunkText,
			SectionContext: r.Section,
		}
		if r.Normalized != "" {
			normalized := r.Normalized
			row.EntityNormalized = &normalized
		}
		out = append(out, row)
	}
	return out
}
