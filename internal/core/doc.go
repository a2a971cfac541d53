// Package core provides the domain logic for turning NDB prescription
// open data into long-format records.
//
// This package holds the data model and the wide-to-long transform,
// independent of where workbooks come from or where records go. It is used
// by the extraction service, the web handlers and the CLI alike.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Layouts: each wide arrangement (sex/age, prefecture) is described by a
//     [LayoutDefinition] registered at init time.
//   - Schema: [Describe] combines a layout with a publication round into a
//     [SchemaDescriptor] naming the fixed columns and the block width.
//   - Transform: [Transform] checks a [CellGrid] against the schema and
//     yields one [CanonicalRecord] per drug row and category.
//   - Criteria: [ExtractionCriteria] selects rounds, years, dosage forms and
//     care settings; [ParseCriteria] reads them from query values.
//
// # Layout Registry
//
// Layouts are registered at init time using [Register], normally by
// importing the layouts subpackage for its side effects:
//
//	import _ "github.com/JonMunkholm/ndbmedicine/internal/core/layouts"
//
// # Masked Cells
//
// Counts below the publication threshold are printed as "-". [ApplyMask]
// turns such a cell into a zero [Quantity] with BelowThreshold set; the
// threshold itself is reported by [ResolveThreshold].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SCH001-SCH002: Structural mismatches and unsupported layouts
//   - SRC001-SRC002: Source retrieval and mirroring
//   - EXT001-EXT005: Extraction runs (not found, busy, cancelled, timed out, running)
//   - VAL001-VAL004: Validation errors (criteria, formats, identifiers)
//   - DB001-DB008: Database errors for the optional run store
package core
