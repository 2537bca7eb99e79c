package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/audit"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

// auditChanSize is the buffer of pending audit entries. Entries beyond it
// are dropped so a slow disk never holds up a command.
const auditChanSize = 256

// auditWriteTimeout bounds writing one entry.
const auditWriteTimeout = 2 * time.Second

// auditSource marks entries written by the HTTP API.
const auditSource = "api"

// AuditLog stores and lists operator actions. *audit.SQLiteRepository
// implements it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// recordAudit enqueues an entry for a command issued by the caller.
func (s *Server) recordAudit(r *http.Request, action, outcome string, out *dobiss.Output, details map[string]any) {
	if s.audit == nil || s.auditCh == nil {
		return
	}

	e := &audit.Entry{
		Action:    action,
		Source:    auditSource,
		Outcome:   outcome,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Subject = claims.Subject
	}
	if out != nil {
		e.DeviceID = out.ID
		e.Address = out.Address.String()
	}
	if id := requestIDFromContext(r.Context()); id != "" {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["request_id"] = id
	}

	select {
	case s.auditCh <- e:
	default:
		s.logger.Warn("audit channel full, dropping entry", "action", action)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is done,
// then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case e := <-s.auditCh:
			s.writeAudit(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.auditCh:
					s.writeAudit(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(e *audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.audit.Create(ctx, e); err != nil {
		s.logger.Error("audit log write failed", "action", e.Action, "error", err)
	}
}

// handleListAudit returns recorded operator actions, most recent first.
// Query parameters action, device_id and subject filter; limit and offset
// page.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		Subject:  q.Get("subject"),
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit log", "error", err)
		writeInternalError(w, "failed to list audit log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
