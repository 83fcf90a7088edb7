//go:build ignore

// Package main generates a synthetic report corpus for load and query benchmarks.
// Usage: go run scripts/generate-test-corpus.go -docs 200 -output testdata/bench/corpus.yaml
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/store"
)

var (
	numDocs    = flag.Int("docs", 200, "Number of reports to generate")
	pages      = flag.Int("pages", 20, "Pages per report")
	outputPath = flag.String("output", "testdata/bench/corpus.yaml", "Output corpus file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var units = []struct {
	canonical string
	raw       []string
	section   string
}{
	{"Portugal Cement", []string{"Portugal", "Cimentos de Portugal"}, "Portugal"},
	{"Egypt Cement", []string{"Egypt", "Egyptian operations"}, "Egypt"},
	{"Tunisia Cement", []string{"Tunisia"}, "Tunisia"},
	{"Lebanon Cement", []string{"Lebanon"}, "Lebanon"},
	{"Cape Verde Cement", []string{"Cape Verde", "Cabo Verde"}, "Cape Verde"},
	{"South Africa Cement", []string{"South Africa", "SA operations"}, "South Africa"},
}

var metrics = []struct {
	name string
	unit string
	base float64
}{
	{"revenue", "EUR m", 400},
	{"EBITDA", "EUR m", 120},
	{"net income", "EUR m", 45},
	{"cement sales", "kt", 2500},
	{"capex", "EUR m", 60},
	{"net debt", "EUR m", 800},
}

var narrative = []string{
	"Energy costs eased compared with the prior year while clinker exports held steady.",
	"Domestic demand softened in the second half as public works were deferred.",
	"Price increases offset higher freight costs across the region.",
	"The kiln upgrade programme reduced fuel consumption per tonne of clinker.",
	"Working capital improved on lower inventories of imported petcoke.",
	"The ready-mix business gained share in the metropolitan area.",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	corpus := index.Corpus{}
	for _, u := range units {
		corpus.Entities = append(corpus.Entities, store.EntityMapping{
			CanonicalName: u.canonical,
			RawMentions:   u.raw,
			EntityType:    "business_unit",
		})
	}

	for d := 0; d < *numDocs; d++ {
		year := 2015 + d%11
		docID := fmt.Sprintf("report-%d-%04d", year, d)
		doc := index.CorpusDocument{
			ID:    docID,
			Title: fmt.Sprintf("Annual Report %d (%d)", year, d),
		}

		for p := 1; p <= *pages; p++ {
			u := units[rng.Intn(len(units))]
			section := fmt.Sprintf("%d.%d %s", p/5+1, p%5+1, u.section)
			doc.Chunks = append(doc.Chunks, index.CorpusChunk{
				ID:      fmt.Sprintf("%s-p%d-0", docID, p),
				Page:    p,
				Section: section,
				Text:    fmt.Sprintf("%s %s", u.section, narrative[rng.Intn(len(narrative))]),
			})

			if p%2 != 0 {
				continue
			}
			m := metrics[rng.Intn(len(metrics))]
			value := fmt.Sprintf("%.1f", m.base*(0.5+rng.Float64()))
			period := fmt.Sprintf("FY%02d", year%100)
			tableID := fmt.Sprintf("%s-p%d-t0", docID, p)
			doc.Chunks = append(doc.Chunks, index.CorpusChunk{
				ID:          tableID,
				Page:        p,
				Section:     section,
				ElementType: "table",
				Text:        fmt.Sprintf("| %s | %s | %s | %s %s |", u.raw[0], m.name, period, value, m.unit),
			})
			doc.Rows = append(doc.Rows, index.CorpusRow{
				Page:    p,
				Entity:  u.raw[rng.Intn(len(u.raw))],
				Metric:  m.name,
				Period:  period,
				Value:   value,
				Unit:    m.unit,
				Section: section,
			})
		}
		corpus.Documents = append(corpus.Documents, doc)
	}

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}
	data, err := yaml.Marshal(corpus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding corpus: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *outputPath, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d reports with %d pages each in %s\n", *numDocs, *pages, *outputPath)
}
