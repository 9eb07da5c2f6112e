package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nerrad567/gray-logic-myq/internal/auth"
)

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32
)

// ticketEntry is the identity a ticket carries onto the WebSocket.
type ticketEntry struct {
	subject string
	role    auth.Role
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use
// and expire after ticketTTL; the cache janitor drops stale ones.
type ticketStore struct {
	mu      sync.Mutex
	tickets *cache.Cache
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: cache.New(ticketTTL, ticketTTL)}
}

// issue stores a new ticket for entry and returns it.
func (t *ticketStore) issue(entry ticketEntry, ttl time.Duration) string {
	ticket := generateTicket()
	t.tickets.Set(ticket, entry, ttl)
	return ticket
}

// redeem consumes ticket. It reports false for unknown, used or expired
// tickets.
func (t *ticketStore) redeem(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.tickets.Get(ticket)
	if !ok {
		return ticketEntry{}, false
	}
	t.tickets.Delete(ticket)
	entry, ok := v.(ticketEntry)
	return entry, ok
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// handleWSTicket issues a single-use WebSocket ticket so browsers need not
// put the bearer token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	ticket := s.tickets.issue(ticketEntry{subject: claims.Subject, role: claims.Role}, ticketTTL)
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}
