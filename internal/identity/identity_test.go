package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	scs "github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
)

// classifyThroughSession runs Classify inside a loaded scs session, optionally
// seeding the session's user id first.
func classifyThroughSession(t *testing.T, userID string, mutate func(r *http.Request)) Identity {
	t.Helper()

	sess := scs.New()
	c := Classifier{Sess: sess}

	var got Identity
	h := sess.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID != "" {
			sess.Put(r.Context(), SessionKey, userID)
		}
		got = c.Classify(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	if mutate != nil {
		mutate(req)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClassify_AuthenticatedSession(t *testing.T) {
	uid := uuid.New()
	id := classifyThroughSession(t, uid.String(), nil)

	if !id.IsAuthenticated() {
		t.Fatalf("expected authenticated identity, got %+v", id)
	}
	if id.Key != uid.String() {
		t.Errorf("Key = %s, want %s", id.Key, uid)
	}
}

func TestClassify_MalformedSessionFallsBackToAnonymous(t *testing.T) {
	id := classifyThroughSession(t, "not-a-uuid", nil)

	if id.Kind != Anonymous {
		t.Fatalf("expected anonymous identity, got %+v", id)
	}
	if id.Key != "203.0.113.9" {
		t.Errorf("Key = %s, want peer address", id.Key)
	}
}

func TestClassify_NoSessionManager(t *testing.T) {
	c := Classifier{}
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:9999"

	id := c.Classify(req)
	if id.Kind != Anonymous || id.Key != "198.51.100.4" {
		t.Fatalf("expected anonymous peer identity, got %+v", id)
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "192.0.2.1", "10.0.0.1:80", "192.0.2.1"},
		{"forwarded chain takes first", "192.0.2.1, 10.0.0.2, 10.0.0.3", "10.0.0.1:80", "192.0.2.1"},
		{"forwarded with spaces", "  192.0.2.7 , 10.0.0.2", "10.0.0.1:80", "192.0.2.7"},
		{"no forwarded header", "", "10.0.0.1:80", "10.0.0.1"},
		{"remote addr without port", "", "10.0.0.1", "10.0.0.1"},
		{"empty everything", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientAddr(req); got != tt.want {
				t.Errorf("ClientAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentity_String(t *testing.T) {
	id := Identity{Kind: Anonymous, Key: "192.0.2.1"}
	if id.String() != "anon:192.0.2.1" {
		t.Errorf("String = %q", id.String())
	}
}
