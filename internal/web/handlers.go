package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/canview/internal/core"
	"github.com/JonMunkholm/canview/internal/logging"
)

const (
	defaultFrameLimit = 1000
	maxFrameLimit     = 10000

	// multipartMemory is how much of a multipart body is held in memory
	// before spilling to temporary files.
	multipartMemory = 32 << 20
)

// healthResponse reports liveness and decoder capacity.
type healthResponse struct {
	Status   string                   `json:"status"`
	Sessions int                      `json:"sessions"`
	Decoder  core.DecodeLimiterStatus `json:"decoder"`
}

// framesResponse is one window of a session's trace.
type framesResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Frames []core.Frame `json:"frames"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.service.SessionCount(),
		Decoder:  s.service.DecoderStatus(),
	})
}

func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListFormats())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.CreateSession()
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, sess.Summary())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadDatabase decodes an uploaded .dbc or .sym file into the session.
func (s *Server) handleLoadDatabase(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	result, err := s.service.LoadDatabase(r.Context(), chi.URLParam(r, "sessionID"), name, data)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLoadTrace decodes an uploaded .blf, .asc or .trc file into the session.
func (s *Server) handleLoadTrace(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	result, err := s.service.LoadTrace(r.Context(), chi.URLParam(r, "sessionID"), name, data)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	db, ok := s.database(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, db.Messages)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	db, ok := s.database(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, db.Nodes)
}

// handleFrames returns a window of decoded frames selected by offset and limit.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	offset := parseIntParam(r, "offset", 0, 0)
	limit := parseIntParam(r, "limit", defaultFrameLimit, 1)
	if limit > maxFrameLimit {
		limit = maxFrameLimit
	}

	frames, total, err := s.service.Frames(chi.URLParam(r, "sessionID"), offset, limit)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if frames == nil {
		frames = []core.Frame{}
	}
	resp := framesResponse{Total: total, Offset: offset, Frames: frames}
	if offset > total {
		resp.Offset = total
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSignals resolves every ?name= signal into a time series.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, v := range r.URL.Query()["name"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	if len(names) == 0 {
		s.respondError(w, r, errNoSignalName, statusFor(errNoSignalName))
		return
	}

	series, err := s.service.ResolveSignals(r.Context(), chi.URLParam(r, "sessionID"), names)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// readUpload reads the multipart "file" field within the configured size limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxSize)
		} else {
			err = fmt.Errorf("%w: %v", errNoFile, err)
		}
		s.respondError(w, r, err, statusFor(err))
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, statusFor(errNoFile))
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		err = fmt.Errorf("read upload: %w", err)
		s.respondError(w, r, err, statusFor(err))
		return "", nil, false
	}

	logging.WithFields(r.Context(),
		"session_id", chi.URLParam(r, "sessionID"),
		"file", header.Filename,
		"bytes", len(data),
	).Info("upload received")
	return header.Filename, data, true
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.service.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return nil, false
	}
	return sess, true
}

func (s *Server) database(w http.ResponseWriter, r *http.Request) (*core.Database, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, false
	}
	db := sess.Database()
	if db == nil {
		s.respondError(w, r, core.ErrNoDatabase, statusFor(core.ErrNoDatabase))
		return nil, false
	}
	return db, true
}

// parseIntParam parses an integer query parameter, falling back to
// defaultVal when it is missing, malformed or below min.
func parseIntParam(r *http.Request, name string, defaultVal, min int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < min {
		return defaultVal
	}
	return i
}
