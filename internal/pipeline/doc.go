// Package pipeline refreshes the tables of one upstream source and loads
// the results into the database sink.
//
// # Overview
//
// A refresh resolves a table's raw input, transforms it with the source's
// registry entry and persists the outputs:
//   - Input: live extraction when AutoExtract is set, otherwise the newest
//     staged raw file; a staging miss falls back to one live extraction
//   - Transform: the registry's Standard or LinkTable transform
//   - Output: tables in memory, or staged processed files, by configuration
//
// # Basic Usage
//
//	orch := pipeline.NewOrchestrator(source, gateway, pipeline.OptionsFrom(cfg), logger)
//	results, err := orch.RefreshTables(ctx, []string{"gene2go"})
//
//	loader := pipeline.NewLoader(db, gateway, logger)
//	report, err := loader.Load(ctx, pipeline.Merge(results), true)
//
// Each table refresh is an independent task with its own timeout. A failed
// table is reported in its TableResult and never aborts its siblings.
package pipeline
