// Package searcher assembles the multi-index retrieval stack for financial
// reports and exposes it behind a single Query call.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                            Engine                              │
//	│  ┌──────────────┐   ┌─────────────────────────────────────┐    │
//	│  │  Classifier  │──▶│            Orchestrator             │    │
//	│  │ (normalizer) │   │  per-backend deadline + breaker     │    │
//	│  └──────────────┘   └───┬──────────────┬──────────────┬───┘    │
//	│                         ▼              ▼              ▼        │
//	│                   ┌──────────┐   ┌──────────┐   ┌──────────┐   │
//	│                   │Structured│   │ Lexical  │   │  Vector  │   │
//	│                   │TableStore│   │FTS5/Bleve│   │   HNSW   │   │
//	│                   └──────────┘   └──────────┘   └──────────┘   │
//	│                         └──────── Fusion ──────────┘           │
//	└────────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	cfg, _ := config.Load(".")
//	engine, err := searcher.Open(ctx, cfg,
//	    searcher.WithMetrics(telemetry.NewMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	resp, err := engine.Query(ctx, "Portugal Cement variable cost Aug 2025", 10, 0)
//
// Stores are populated by the index package; an engine over empty stores
// answers every query with NoEvidence.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Entity mappings can be swapped while
// queries run.
package searcher
