// Package normalize maps raw entity mentions from financial tables to
// canonical entity names.
//
// The entity dimension table is held as an immutable Snapshot behind an
// atomic pointer. Readers never lock; a reload builds a new Snapshot and
// swaps it in, so queries see either the old table or the new one.
//
// Two lookups are offered:
//   - Normalize applies deterministic rules (alias hit, section-header
//     expansion) and reports whether any rule matched.
//   - FuzzyCandidates ranks canonical names by trigram similarity.
package normalize
