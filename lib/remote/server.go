// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/clock"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
	"github.com/deaddrop-io/deaddrop/lib/service"
	"github.com/deaddrop-io/deaddrop/lib/version"
)

// maxSubmissionBytes caps an uploaded bundle before any decoding.
const maxSubmissionBytes = 1 << 30

// Server answers the drop HTTP surface: status, the bundle index,
// bundle downloads with their location lists, and signed submissions.
// It never trusts an upload: the detached signature gates the decode,
// the acceptance profile gates the size, and the full verify-and-merge
// path gates the log.
type Server struct {
	log     *patchlog.Log
	dir     *bundle.Dir
	baseURL string
	logger  *slog.Logger
	clock   clock.Clock
	limit   int
}

// ServerConfig configures a drop server.
type ServerConfig struct {
	// Log is the drop's record log. Required.
	Log *patchlog.Log

	// Dir is the bundle directory served and written. Required.
	Dir *bundle.Dir

	// BaseURL is the externally reachable prefix used in generated
	// location lists (e.g., "https://drop.example"). Empty means
	// location lists carry request-relative URIs.
	BaseURL string

	// MaxInFlight bounds concurrent submissions. Defaults to 8.
	MaxInFlight int

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// Clock supplies the acceptance time for merges. Nil means the
	// real clock.
	Clock clock.Clock
}

// NewServer creates the handler set for one drop.
func NewServer(config ServerConfig) *Server {
	if config.Log == nil {
		panic("remote.Server: Log is required")
	}
	if config.Dir == nil {
		panic("remote.Server: Dir is required")
	}
	if config.Logger == nil {
		panic("remote.Server: Logger is required")
	}
	limit := config.MaxInFlight
	if limit == 0 {
		limit = 8
	}
	ticker := config.Clock
	if ticker == nil {
		ticker = clock.Real()
	}
	return &Server{
		log:     config.Log,
		dir:     config.Dir,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		logger:  config.Logger,
		clock:   ticker,
		limit:   limit,
	}
}

// Handler returns the HTTP handler: routed, logged, submission
// concurrency bounded, every response stamped with the server version.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /-/status", s.handleStatus)
	mux.HandleFunc("GET /bundles", s.handleIndex)
	mux.HandleFunc("GET /bundles/{name}", s.handleBundle)
	mux.Handle("POST /patches", service.LimitInFlight(s.limit, http.HandlerFunc(s.handleSubmit)))

	stamped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.Server())
		mux.ServeHTTP(w, r)
	})
	return service.LogRequests(s.logger, stamped)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := s.dir.List()
	if err != nil {
		s.fail(w, fault.Transport("listing bundles: %w", err))
		return
	}
	s.respond(w, http.StatusOK, Status{
		Drop:    s.log.DropID(),
		Records: s.log.Length(),
		Topics:  s.log.TopicCount(),
		Bundles: len(ids),
		Version: version.Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ids, err := s.dir.List()
	if err != nil {
		s.fail(w, fault.Transport("listing bundles: %w", err))
		return
	}
	s.respond(w, http.StatusOK, bundleList{Bundles: ids})
}

// handleBundle serves both the bundle bytes (/bundles/<hash>) and its
// location list (/bundles/<hash>.uris).
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	wantList := strings.HasSuffix(name, ".uris")
	id, err := content.ParseHash(strings.TrimSuffix(name, ".uris"))
	if err != nil {
		s.error(w, http.StatusBadRequest, "not a bundle hash")
		return
	}
	if !s.dir.Has(id) {
		s.error(w, http.StatusNotFound, "no such bundle")
		return
	}

	if wantList {
		locations := []bundle.Location{{
			ID:            "origin",
			URI:           s.bundleURI(id),
			CreationToken: s.clock.Now().Unix(),
		}}
		encoded, err := bundle.EncodeLocations(locations)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(encoded)
		return
	}

	data, err := s.dir.Read(id)
	if err != nil {
		s.fail(w, fault.Transport("reading bundle: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) bundleURI(id content.Hash) string {
	base := s.baseURL
	if base == "" {
		return "/bundles/" + id.String()
	}
	return base + "/bundles/" + id.String()
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes+1))
	if err != nil {
		s.error(w, http.StatusBadRequest, "reading submission: "+err.Error())
		return
	}
	if len(body) > maxSubmissionBytes {
		s.error(w, http.StatusRequestEntityTooLarge, "submission too large")
		return
	}
	if !bundle.IsBundleData(body) {
		s.error(w, http.StatusBadRequest, "submission is not a bundle")
		return
	}

	// The detached signature is checked before the bundle is decoded:
	// no anonymous upload gets to exercise the parser.
	if err := s.checkSubmissionSignature(r.Header.Get(SignatureHeader), body); err != nil {
		s.logger.Warn("submission signature rejected", "error", err)
		s.error(w, http.StatusUnauthorized, err.Error())
		return
	}

	decoded, err := bundle.Decode(body)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := bundle.ProfileFor(decoded).Check(decoded); err != nil {
		s.error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	result := SubmitResult{Bundle: decoded.ID}
	if decoded.Encrypted() && decoded.Objects == nil && len(decoded.Header.Objects) > 0 {
		// Sealed to someone else: held for relay, never merged.
		result.Relayed = true
	} else {
		appended, err := bundle.Unpack(r.Context(), s.log, decoded, s.clock.Now())
		if err != nil {
			s.fail(w, err)
			return
		}
		result.Records = len(appended)
	}

	if err := s.dir.Write(decoded.ID, body); err != nil {
		s.fail(w, fault.Transport("storing bundle: %w", err))
		return
	}
	s.logger.Info("submission accepted",
		"bundle", decoded.ID.Short(),
		"records", result.Records,
		"relayed", result.Relayed)
	s.respond(w, http.StatusOK, result)
}

// checkSubmissionSignature verifies the header signature over the
// submission checksum against a current key of an identity the log
// knows.
func (s *Server) checkSubmissionSignature(header string, body []byte) error {
	if header == "" {
		return fault.Authorization("missing %s header", SignatureHeader)
	}
	keyID, signature, err := parseSignature(header)
	if err != nil {
		return fault.Authorization("%w", err)
	}

	signers, err := s.log.ResolvedSigners(s.clock.Now())
	if err != nil {
		return fault.Integrity("resolving identities: %w", err)
	}
	owner, ok := signers.Owner(keyID)
	if !ok {
		return fault.Authorization("signing key %s belongs to no known identity", keyID)
	}
	keys, _ := signers.KeysFor(owner)
	checksum := content.HashChecksum(body)
	for _, key := range keys {
		if key.ID() != keyID {
			continue
		}
		if err := key.Verify(checksum[:], signature); err != nil {
			return fault.Authorization("submission signature: %w", err)
		}
		return nil
	}
	return fault.Authorization("signing key %s is not current for identity %s", keyID, owner.Short())
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) error(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, errorResponse{Error: message})
}

// fail maps a fault to its HTTP status: integrity 400, authorization
// 403, conflict 409, transport and everything else 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	category, _ := fault.CategoryOf(err)
	switch category {
	case fault.CategoryIntegrity:
		status = http.StatusBadRequest
	case fault.CategoryAuthorization:
		status = http.StatusForbidden
	case fault.CategoryConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.error(w, status, err.Error())
}
