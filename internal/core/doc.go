// Package core provides the decoding engine for CAN bus traces and signal databases.
//
// This package is the heart of canview, containing all domain logic
// independent of any transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Formats: trace and database decoders registered per file extension.
//   - Model: [Frame], [Trace], [Database], [Message], [Signal] and [Node].
//   - Bit extraction: [Extract] and [SignExtend] read raw signal fields.
//   - Resolution: [Resolve] joins a database with a trace into physical
//     time series.
//   - Service: sessions that own one database and one trace each.
//
// # Format Registry
//
// Formats are registered at init time using [Register]. The concrete
// decoders live in the formats subpackage:
//
//	core.Register(core.FormatDefinition{
//	    Info:  core.FormatInfo{Key: "asc", Extension: ".asc", Kind: core.KindTrace, Label: "ASCII trace"},
//	    Trace: ASCDecoder{},
//	})
//
// [Lookup] selects a definition once by file extension, so callers never
// branch on the format again.
//
// # Partial Decodes
//
// A structural problem (bad signature, truncated object) stops a decoder
// early. Decoders then return the frames or messages read so far together
// with a [*DecodeError]; the service keeps the partial model and records a
// [Diagnostic]. Text lines that match no grammar are skipped silently.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FMT001-FMT002: Unsupported or mismatched formats
//   - DEC001-DEC004: Decode failures (signatures, truncation, range)
//   - SES001-SES004: Session errors (not found, limit, missing model)
//   - SIG001: Unknown signals
//   - UPL001-UPL005: Upload handling (size, busy, cancelled, timeout)
//   - RATE001: Rate limiting
package core
