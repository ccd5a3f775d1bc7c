// Package formats registers the trace and database decoders with the core
// registry. Import it for its side effects to make every format available:
//
//	import _ "github.com/JonMunkholm/canview/internal/core/formats"
//
// Traces: Vector BLF (.blf), Vector ASC (.asc) and PCAN TRC (.trc).
// Databases: Vector DBC (.dbc) and PCAN Symbol (.sym).
package formats

// Each format file registers its definition from init().
