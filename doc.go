// Package hgd is the Human Genome Database refresh pipeline.
//
// hgd extracts human pathway, gene, disease, variant and module records from
// the KEGG REST API, gene files and Entrez summaries from NCBI, normalizes
// them into one relational schema and loads the result into MySQL,
// PostgreSQL or SQLite.
//
// # Stages
//
// Every table of a source is refreshed independently:
//
//	extract   remote fetch (KEGG REST, NCBI bulk files, Entrez paging)
//	stage     raw table saved through the storage gateway
//	transform canonical columns, id prefixes, lookup relations
//	stage     processed tables saved, or kept in memory
//	load      written through one sink session
//
// Staging backends are the local file system, S3, GCS and memory; large
// tables are compressed with gzip, zstd or lz4.
//
// # Key Packages
//
//	internal/kegg       - KEGG REST source and transforms
//	internal/ncbi       - NCBI bulk file and Entrez sources and transforms
//	internal/fetcher    - two-phase search and batch retrieval
//	internal/normalize  - multi-valued column explosion into lookups
//	internal/mapper     - column renaming and identifier prefixing
//	internal/pipeline   - per-table orchestration and loading
//	pkg/storage         - staging gateway and backends
//	pkg/sink            - SQL sink sessions
//	pkg/config          - profiles, YAML overlay and HGD_* overrides
//	pkg/hgderrors       - typed errors and retry classification
//
// # Usage
//
//	hgd refresh --source kegg --tables pathway,gene --overwrite
//	hgd refresh --source ncbi --create-database --auto-extract
//	hgd tables
package hgd
