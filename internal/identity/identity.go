// Package identity derives the attribution key used to scope rate-limit
// counters: an authenticated user id when a verified session is present,
// otherwise the caller's network address.
package identity

import (
	"net"
	"net/http"
	"strings"

	scs "github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
)

// Kind discriminates how an Identity was derived.
type Kind string

const (
	Anonymous     Kind = "anon"
	Authenticated Kind = "auth"
)

// Identity is the attribution key for a request. Key is never empty: the
// anonymous address fallback always succeeds.
type Identity struct {
	Kind Kind
	Key  string
}

// IsAuthenticated reports whether the identity came from a verified session.
func (id Identity) IsAuthenticated() bool {
	return id.Kind == Authenticated
}

// String renders the identity as it appears inside store keys.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.Key
}

// SessionKey is the session field holding the authenticated user id.
const SessionKey = "user_id"

// Classifier resolves an Identity from an inbound request. A nil session
// manager classifies everything as anonymous.
type Classifier struct {
	Sess *scs.SessionManager
}

// Classify never fails: any problem resolving the session degrades to an
// anonymous identity rather than blocking the pipeline.
func (c Classifier) Classify(r *http.Request) Identity {
	if c.Sess != nil {
		if raw := c.Sess.GetString(r.Context(), SessionKey); raw != "" {
			if uid, err := uuid.Parse(raw); err == nil {
				return Identity{Kind: Authenticated, Key: uid.String()}
			}
		}
	}
	return Identity{Kind: Anonymous, Key: ClientAddr(r)}
}

// ClientAddr extracts the caller's address: the first entry of the trusted
// X-Forwarded-For header when present, else the direct peer.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			first = fwd[:i]
		}
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
