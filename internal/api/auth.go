package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
)

// WebSocket tickets let a browser open /ws without putting the bearer
// token in the URL. A ticket is single-use and short-lived.
const (
	ticketTTL = 60 * time.Second

	// maxPendingTickets bounds the store between sweeps.
	maxPendingTickets = 1024
)

type ticketEntry struct {
	subject   string
	role      auth.Role
	expiresAt time.Time
}

func (e ticketEntry) expired(now time.Time) bool { return !now.Before(e.expiresAt) }

type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue returns a new ticket for the caller, sweeping expired tickets
// first when the store is full.
func (ts *ticketStore) issue(subject string, role auth.Role) string {
	ticket := generateTicket()
	now := time.Now()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.tickets) >= maxPendingTickets {
		ts.sweepLocked(now)
	}
	ts.tickets[ticket] = ticketEntry{subject: subject, role: role, expiresAt: now.Add(ticketTTL)}
	return ticket
}

// consume removes the ticket and reports whether it was still valid.
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	entry, ok := ts.tickets[ticket]
	delete(ts.tickets, ticket)
	ts.mu.Unlock()

	if !ok || entry.expired(time.Now()) {
		return ticketEntry{}, false
	}
	return entry, true
}

func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	ts.sweepLocked(time.Now())
	ts.mu.Unlock()
}

func (ts *ticketStore) sweepLocked(now time.Time) {
	for ticket, entry := range ts.tickets {
		if entry.expired(now) {
			delete(ts.tickets, ticket)
		}
	}
}

// run sweeps expired tickets every ticketTTL until ctx is done.
func (ts *ticketStore) run(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.cleanExpired()
		}
	}
}

// generateTicket returns 128 random bits as base32 text.
func generateTicket() string {
	return rand.Text()
}

// handleWSTicket issues a ticket bound to the caller's token identity.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "bearer token required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(claims.Subject, claims.Role),
		"expires_in": int(ticketTTL.Seconds()),
	})
}
