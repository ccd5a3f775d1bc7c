package core

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FormatKind tells whether a format holds bus traffic or a signal database.
type FormatKind string

const (
	KindTrace    FormatKind = "trace"
	KindDatabase FormatKind = "database"
)

// TraceDecoder turns trace file bytes into an ordered frame sequence.
type TraceDecoder interface {
	DecodeTrace(data []byte) (*Trace, error)
}

// DatabaseDecoder turns signal database bytes into a Database.
type DatabaseDecoder interface {
	DecodeDatabase(data []byte) (*Database, error)
}

// FormatInfo contains display information about a format.
type FormatInfo struct {
	Key       string     `json:"key"`       // "blf"
	Extension string     `json:"extension"` // ".blf"
	Kind      FormatKind `json:"kind"`
	Label     string     `json:"label"`
}

// FormatDefinition binds a file extension to its decoder. Exactly one of
// Trace and Database is set, matching Info.Kind.
type FormatDefinition struct {
	Info     FormatInfo
	Trace    TraceDecoder
	Database DatabaseDecoder
}

var (
	registry   = make(map[string]FormatDefinition)
	registryMu sync.RWMutex
)

// Register adds a format definition to the registry.
// Panics if the extension is already registered or the definition is inconsistent.
func Register(def FormatDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	ext := strings.ToLower(def.Info.Extension)
	if _, exists := registry[ext]; exists {
		panic(fmt.Sprintf("format already registered: %s", ext))
	}
	switch def.Info.Kind {
	case KindTrace:
		if def.Trace == nil {
			panic(fmt.Sprintf("trace format %s has no decoder", def.Info.Key))
		}
	case KindDatabase:
		if def.Database == nil {
			panic(fmt.Sprintf("database format %s has no decoder", def.Info.Key))
		}
	default:
		panic(fmt.Sprintf("format %s has unknown kind %q", def.Info.Key, def.Info.Kind))
	}

	def.Info.Extension = ext
	registry[ext] = def
}

// Lookup selects the format definition for a file name by its extension.
func Lookup(fileName string) (FormatDefinition, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[ext]
	if !ok {
		return FormatDefinition{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return def, nil
}

// All returns all registered formats.
// Sorted by kind then by key for consistent ordering.
func All() []FormatDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]FormatDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Info.Kind != result[j].Info.Kind {
			return result[i].Info.Kind < result[j].Info.Kind
		}
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// ByKind returns the registered formats of one kind, sorted by key.
func ByKind(kind FormatKind) []FormatDefinition {
	var result []FormatDefinition
	for _, def := range All() {
		if def.Info.Kind == kind {
			result = append(result, def)
		}
	}
	return result
}

// FormatCount returns the number of registered formats.
func FormatCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered formats.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]FormatDefinition)
}

// lookupKind returns the definition registered for fileName, provided it
// decodes the given kind.
func lookupKind(fileName string, kind FormatKind) (FormatDefinition, error) {
	def, err := Lookup(fileName)
	if err != nil {
		return FormatDefinition{}, err
	}
	if def.Info.Kind != kind {
		return FormatDefinition{}, fmt.Errorf("%w: %s is not a %s format", ErrUnsupportedFormat, def.Info.Extension, kind)
	}
	return def, nil
}

// DecodeTraceFile decodes a trace with the decoder registered for its
// extension. An entry in overrides, keyed by lowercase extension, replaces
// the registered decoder. A partial trace is returned along with its error.
func DecodeTraceFile(fileName string, data []byte, overrides map[string]TraceDecoder) (*Trace, error) {
	def, err := lookupKind(fileName, KindTrace)
	if err != nil {
		return nil, err
	}
	dec := def.Trace
	if o, ok := overrides[strings.ToLower(def.Info.Extension)]; ok {
		dec = o
	}
	trace, err := dec.DecodeTrace(data)
	if trace != nil {
		trace.FileName = fileName
		trace.Format = def.Info.Key
	}
	return trace, err
}

// DecodeDatabaseFile decodes a database with the decoder registered for its
// extension. A partial database is returned along with its error.
func DecodeDatabaseFile(fileName string, data []byte) (*Database, error) {
	def, err := lookupKind(fileName, KindDatabase)
	if err != nil {
		return nil, err
	}
	db, err := def.Database.DecodeDatabase(data)
	if db != nil {
		db.FileName = fileName
		db.Format = def.Info.Key
	}
	return db, err
}
