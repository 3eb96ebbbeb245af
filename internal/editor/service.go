// Package editor aggregates the collaborative-editing domain services: it
// arbitrates edits through the lock table, keeps the contribution and
// presence registry current, and publishes every outcome on the broadcast
// hub.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/hub"
	"pkt.systems/coedit/internal/locks"
	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/coedit/internal/registry"
	"pkt.systems/coedit/internal/sandbox"
	"pkt.systems/coedit/internal/workspace"
	"pkt.systems/pslog"
)

// SecurityViolationMarker is returned as file content when a read resolves
// outside the storage root. It deliberately carries no detail.
const SecurityViolationMarker = "// Security Violation"

// AccessDeniedBody is the REST body returned for admin-namespace content
// requests from non-admin callers.
const AccessDeniedBody = "// ERROR: ACCESS DENIED."

// Config wires the service's collaborators.
type Config struct {
	Workspace *workspace.Store
	Locks     *locks.Table
	Registry  *registry.Registry
	Hub       *hub.Hub
	Sandbox   *sandbox.Engine
	Logger    pslog.Logger
}

// Service implements the transport-agnostic editor operations.
type Service struct {
	ws      *workspace.Store
	locks   *locks.Table
	reg     *registry.Registry
	hub     *hub.Hub
	sandbox *sandbox.Engine
	logger  pslog.Logger
	metrics *serviceMetrics
}

// New constructs the editor service.
func New(cfg Config) *Service {
	logger := loggingutil.WithSubsystem(cfg.Logger, "editor")
	return &Service{
		ws:      cfg.Workspace,
		locks:   cfg.Locks,
		reg:     cfg.Registry,
		hub:     cfg.Hub,
		sandbox: cfg.Sandbox,
		logger:  logger,
		metrics: newServiceMetrics(logger),
	}
}

// ListFiles returns the role-filtered file listing.
func (s *Service) ListFiles(role string) []string {
	return s.ws.List(role)
}

// Content returns the content of one file for the given role. The path is
// canonicalized before the namespace check so that aliased spellings like
// "x/../admin/a.txt" cannot slip past it. Admin-namespace paths are denied
// for non-admin callers; security violations read as the fixed marker;
// missing files read as empty.
func (s *Service) Content(path, role string) (string, bool) {
	canonical, err := s.ws.Canonicalize(path)
	if errors.Is(err, workspace.ErrPathEscapes) {
		return SecurityViolationMarker, true
	}
	if s.ws.ReservedPath(canonical) && !strings.EqualFold(role, api.RoleAdmin) {
		return AccessDeniedBody, false
	}
	content, _ := s.ws.Read(canonical)
	return content, true
}

// Stats returns a snapshot of per-user accepted edit counts.
func (s *Service) Stats() map[string]int64 {
	return s.reg.Contributions()
}

// Chat stamps and broadcasts a chat message, returning the stamped copy.
func (s *Service) Chat(msg api.ChatMessage) api.ChatMessage {
	stamped := s.hub.PublishChat(msg)
	s.metrics.chat.Add(context.Background(), 1)
	return stamped
}

// Presence records the file a user is viewing and broadcasts the full
// presence table.
func (s *Service) Presence(update api.PresenceUpdate) map[string]string {
	full := s.reg.SetPresence(update.User, update.File)
	s.hub.Publish(api.TopicPresence, full)
	return full
}

// CreateFile creates an empty file under the creator's directory and
// broadcasts a refresh signal on the files topic. Creation under the
// administrative namespace is rejected (the rejection is still broadcast)
// unless the requester holds the admin role.
func (s *Service) CreateFile(req api.FileCreateRequest) string {
	signal := api.FileRefresh
	admin := strings.EqualFold(req.Role, api.RoleAdmin)
	canonical, err := s.ws.Canonicalize(req.Creator + "/" + req.Name)
	switch {
	case err != nil:
		signal = api.FileRejected
		s.logger.Warn("file.create.rejected", "creator", req.Creator, "name", req.Name)
	case s.ws.ReservedPath(canonical) && !admin:
		// Canonical check catches both a reserved creator and a name that
		// climbs into the namespace, e.g. "../admin/x".
		signal = api.FileRejected
		s.logger.Warn("file.create.rejected", "creator", req.Creator, "name", req.Name)
	default:
		if existing, err := s.ws.Read(canonical); err == nil && existing == "" {
			if err := s.ws.Write(canonical, ""); err != nil {
				s.logger.Error("file.create.failed", "path", canonical, "error", err)
			} else {
				s.logger.Info("file.create", "path", canonical, "creator", req.Creator)
			}
		}
	}
	s.hub.Publish(api.TopicFiles, signal)
	return signal
}

// DeleteFile removes a file, releases its edit lock and broadcasts a refresh
// signal. Only the admin role may delete.
func (s *Service) DeleteFile(req api.FileDeleteRequest) string {
	if !strings.EqualFold(req.Role, api.RoleAdmin) {
		s.hub.Publish(api.TopicFiles, api.FileRejected)
		return api.FileRejected
	}
	canonical, err := s.ws.Canonicalize(req.Path)
	if err != nil {
		s.logger.Warn("file.delete.rejected", "path", req.Path)
		s.hub.Publish(api.TopicFiles, api.FileRejected)
		return api.FileRejected
	}
	if err := s.ws.Delete(canonical); err != nil {
		s.logger.Error("file.delete.failed", "path", canonical, "error", err)
	}
	s.locks.Release(canonical)
	s.logger.Info("file.delete", "path", canonical)
	s.hub.Publish(api.TopicFiles, api.FileRefresh)
	return api.FileRefresh
}

// Edit runs the edit state machine for one full-content edit: path
// canonicalization, administrative namespace check, lock arbitration,
// contribution accounting, synchronous write. The canonical path is what the
// namespace check, the lock key and the cache key all see, so aliased
// spellings of one file share one lock and cannot reach the reserved
// namespace through dot segments. The response is always broadcast on the
// updates topic. A failed write after an accepted edit does not roll back
// the contribution counter.
func (s *Service) Edit(req api.EditRequest) api.EditResponse {
	path, err := s.ws.Canonicalize(req.FileName)
	if err != nil {
		resp := api.EditResponse{Type: api.EditError, Content: "Access Denied.", User: req.User, FileName: req.FileName}
		s.logger.Warn("edit.rejected", "path", req.FileName, "user", req.User)
		s.metrics.editDenied.Add(context.Background(), 1)
		s.hub.Publish(api.TopicUpdates, resp)
		return resp
	}

	var resp api.EditResponse
	dec := s.locks.Acquire(path, req.User, req.Role)
	switch dec.Outcome {
	case locks.DeniedAccess:
		resp = api.EditResponse{Type: api.EditError, Content: dec.Reason, User: req.User, FileName: path}
		s.metrics.editDenied.Add(context.Background(), 1)
	case locks.DeniedLocked:
		resp = api.EditResponse{Type: api.EditLocked, Content: dec.Reason, User: req.User, FileName: path}
		s.logger.Info("edit.locked", "path", path, "user", req.User, "holder", dec.Holder)
		s.metrics.editLocked.Add(context.Background(), 1)
	default:
		s.reg.RecordEdit(req.User)
		if err := s.ws.Write(path, req.Content); err != nil {
			s.logger.Error("edit.write_failed", "path", path, "user", req.User, "error", err)
		}
		resp = api.EditResponse{Type: api.EditUpdate, Content: req.Content, User: req.User, FileName: path}
		s.logger.Info("edit.apply", "path", path, "user", req.User, "bytes", len(req.Content))
		s.metrics.editApplied.Add(context.Background(), 1)
	}

	s.hub.Publish(api.TopicUpdates, resp)
	return resp
}

// Run executes one transient execution job through the sandbox.
func (s *Service) Run(ctx context.Context, req api.RunRequest) (api.RunResponse, error) {
	if len(req.Files) == 0 {
		return api.RunResponse{}, fmt.Errorf("editor: run request carries no files")
	}
	res := s.sandbox.Run(ctx, req.Language, req.Files[0].Content)
	s.metrics.runJobs.Add(context.Background(), 1)
	return api.RunResponse{Run: api.RunOutput{Output: res.Output}}, nil
}
