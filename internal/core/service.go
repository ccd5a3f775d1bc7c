package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	MaxConcurrentDecodes int
	MaxDecodeWait        time.Duration
	DecodeTimeout        time.Duration

	SessionTTL  time.Duration
	MaxSessions int

	// TraceDecoders overrides the registered decoder per extension (".blf").
	TraceDecoders map[string]TraceDecoder
}

const (
	DefaultDecodeTimeout = 2 * time.Minute
	DefaultSessionTTL    = 30 * time.Minute
	DefaultMaxSessions   = 64
)

// Service owns analysis sessions. Each session holds the database and trace
// the caller loaded into it; sessions share nothing.
type Service struct {
	opts    Options
	limiter *DecodeLimiter
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Diagnostic records a non-fatal problem met while decoding a file.
type Diagnostic struct {
	File    string `json:"file"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Session is one analysis context: at most one database and one trace.
type Session struct {
	ID      string
	Created time.Time

	mu          sync.RWMutex
	lastUsed    time.Time
	database    *Database
	trace       *Trace
	diagnostics []Diagnostic
}

// SessionSummary is the JSON view of a session.
type SessionSummary struct {
	ID          string       `json:"id"`
	Created     time.Time    `json:"created"`
	LastUsed    time.Time    `json:"lastUsed"`
	Database    string       `json:"database,omitempty"`
	Messages    int          `json:"messages"`
	Trace       string       `json:"trace,omitempty"`
	Frames      int          `json:"frames"`
	TraceStart  *time.Time   `json:"traceStart,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// LoadResult describes the outcome of loading one file into a session.
type LoadResult struct {
	SessionID  string        `json:"sessionId"`
	FileName   string        `json:"fileName"`
	Format     string        `json:"format"`
	Messages   int           `json:"messages,omitempty"`
	Nodes      int           `json:"nodes,omitempty"`
	Frames     int           `json:"frames,omitempty"`
	Partial    bool          `json:"partial"`
	Diagnostic *Diagnostic   `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

// NewService creates a new Service instance.
func NewService(opts Options) *Service {
	if opts.DecodeTimeout <= 0 {
		opts.DecodeTimeout = DefaultDecodeTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}

	overrides := make(map[string]TraceDecoder, len(opts.TraceDecoders))
	for ext, dec := range opts.TraceDecoders {
		overrides[strings.ToLower(ext)] = dec
	}
	opts.TraceDecoders = overrides

	return &Service{
		opts:     opts,
		limiter:  NewDecodeLimiter(opts.MaxConcurrentDecodes, opts.MaxDecodeWait, opts.DecodeTimeout),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// ListFormats returns information about all registered formats.
func (s *Service) ListFormats() []FormatInfo {
	defs := All()
	infos := make([]FormatInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// CreateSession opens a new empty session.
func (s *Service) CreateSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.opts.MaxSessions {
		return nil, ErrSessionLimit
	}

	now := s.now()
	sess := &Session{
		ID:       uuid.New().String(),
		Created:  now,
		lastUsed: now,
	}
	s.sessions[sess.ID] = sess

	slog.Debug("session created", "session_id", sess.ID, "active", len(s.sessions))
	return sess, nil
}

// GetSession returns a session and marks it as used.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess.touch(s.now())
	return sess, nil
}

// DeleteSession drops a session and the models it holds.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// ListSessions returns summaries of all sessions, oldest first.
func (s *Service) ListSessions() []SessionSummary {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Created.Before(sessions[j].Created)
	})

	result := make([]SessionSummary, len(sessions))
	for i, sess := range sessions {
		result[i] = sess.Summary()
	}
	return result
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// LoadDatabase decodes a signal database into the session, replacing any
// previously loaded database. A partial decode is kept and reported.
func (s *Service) LoadDatabase(ctx context.Context, sessionID, fileName string, data []byte) (*LoadResult, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	def, err := lookupKind(fileName, KindDatabase)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	start := time.Now()
	var db *Database
	decodeErr, err := s.limiter.Decode(ctx, func() error {
		var err error
		db, err = DecodeDatabaseFile(fileName, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if db == nil || (decodeErr != nil && !IsPartial(decodeErr)) {
		return nil, decodeErr
	}

	result := &LoadResult{
		SessionID: sessionID,
		FileName:  fileName,
		Format:    def.Info.Key,
		Messages:  len(db.Messages),
		Nodes:     len(db.Nodes),
		Duration:  time.Since(start),
	}
	diag := diagnosticFor(fileName, decodeErr)
	if diag != nil {
		result.Partial = true
		result.Diagnostic = diag
	}

	sess.setDatabase(db, diag)
	WithSession(ctx, sessionID).Info("database loaded",
		"file", fileName,
		"format", def.Info.Key,
		"messages", len(db.Messages),
		"partial", result.Partial,
	)
	return result, nil
}

// LoadTrace decodes a trace into the session, replacing any previously
// loaded trace. A partial decode is kept and reported.
func (s *Service) LoadTrace(ctx context.Context, sessionID, fileName string, data []byte) (*LoadResult, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	def, err := lookupKind(fileName, KindTrace)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	start := time.Now()
	var trace *Trace
	decodeErr, err := s.limiter.Decode(ctx, func() error {
		var err error
		trace, err = DecodeTraceFile(fileName, data, s.opts.TraceDecoders)
		return err
	})
	if err != nil {
		return nil, err
	}
	if trace == nil || (decodeErr != nil && !IsPartial(decodeErr)) {
		return nil, decodeErr
	}

	result := &LoadResult{
		SessionID: sessionID,
		FileName:  fileName,
		Format:    def.Info.Key,
		Frames:    len(trace.Frames),
		Duration:  time.Since(start),
	}
	diag := diagnosticFor(fileName, decodeErr)
	if diag != nil {
		result.Partial = true
		result.Diagnostic = diag
	}

	sess.setTrace(trace, diag)
	WithSession(ctx, sessionID).Info("trace loaded",
		"file", fileName,
		"format", def.Info.Key,
		"frames", len(trace.Frames),
		"partial", result.Partial,
	)
	return result, nil
}

// Frames returns a window of the session's trace and the total frame count.
func (s *Service) Frames(sessionID string, offset, limit int) ([]Frame, int, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, 0, err
	}
	trace := sess.Trace()
	if trace == nil {
		return nil, 0, ErrNoTrace
	}

	total := len(trace.Frames)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return trace.Frames[offset:end], total, nil
}

// ResolveSignals resolves the named signals against the session's models.
func (s *Service) ResolveSignals(ctx context.Context, sessionID string, names []string) ([]Series, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	db := sess.Database()
	if db == nil {
		return nil, ErrNoDatabase
	}
	trace := sess.Trace()
	if trace == nil {
		return nil, ErrNoTrace
	}
	return ResolveAll(ctx, db, trace.Frames, names)
}

// DecoderStatus returns the decode limiter state.
func (s *Service) DecoderStatus() DecodeLimiterStatus {
	return s.limiter.Status()
}

// WaitForDecodes blocks until running decodes finish or ctx is cancelled.
func (s *Service) WaitForDecodes(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ExpireSessions removes sessions idle for longer than the session TTL and
// returns how many were removed.
func (s *Service) ExpireSessions() int {
	cutoff := s.now().Add(-s.opts.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSessionReaper expires idle sessions every interval until ctx is done.
// Should be run as a goroutine.
func (s *Service) StartSessionReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("session reaper started", "interval", interval, "ttl", s.opts.SessionTTL)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper stopped")
			return
		case <-ticker.C:
			if n := s.ExpireSessions(); n > 0 {
				slog.Info("sessions expired", "count", n, "remaining", s.SessionCount())
			}
		}
	}
}

// diagnosticFor describes an early decoder stop. It is nil unless err
// marks a partial result.
func diagnosticFor(fileName string, err error) *Diagnostic {
	if !IsPartial(err) {
		return nil
	}
	var de *DecodeError
	errors.As(err, &de)
	return &Diagnostic{
		File:    fileName,
		Kind:    de.Kind.String(),
		Message: err.Error(),
		Hint:    FormatUserError(err),
	}
}

// Database returns the loaded database, or nil.
func (sess *Session) Database() *Database {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.database
}

// Trace returns the loaded trace, or nil.
func (sess *Session) Trace() *Trace {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.trace
}

// LastUsed returns when the session was last accessed.
func (sess *Session) LastUsed() time.Time {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.lastUsed
}

// Summary returns the JSON view of the session.
func (sess *Session) Summary() SessionSummary {
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	sum := SessionSummary{
		ID:          sess.ID,
		Created:     sess.Created,
		LastUsed:    sess.lastUsed,
		Diagnostics: append([]Diagnostic(nil), sess.diagnostics...),
	}
	if sess.database != nil {
		sum.Database = sess.database.FileName
		sum.Messages = len(sess.database.Messages)
	}
	if sess.trace != nil {
		sum.Trace = sess.trace.FileName
		sum.Frames = len(sess.trace.Frames)
		if !sess.trace.Start.IsZero() {
			start := sess.trace.Start
			sum.TraceStart = &start
		}
	}
	return sum
}

func (sess *Session) touch(now time.Time) {
	sess.mu.Lock()
	sess.lastUsed = now
	sess.mu.Unlock()
}

func (sess *Session) setDatabase(db *Database, diag *Diagnostic) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.database = db
	sess.replaceDiagnostic(KindDatabase, diag)
}

func (sess *Session) setTrace(trace *Trace, diag *Diagnostic) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.trace = trace
	sess.replaceDiagnostic(KindTrace, diag)
}

// replaceDiagnostic drops diagnostics of the previous model of the same kind.
// Callers hold sess.mu.
func (sess *Session) replaceDiagnostic(kind FormatKind, diag *Diagnostic) {
	kept := sess.diagnostics[:0]
	for _, d := range sess.diagnostics {
		def, err := Lookup(d.File)
		if err == nil && def.Info.Kind == kind {
			continue
		}
		kept = append(kept, d)
	}
	sess.diagnostics = kept
	if diag != nil {
		sess.diagnostics = append(sess.diagnostics, *diag)
	}
}
