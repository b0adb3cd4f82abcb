package httpapi

import (
	"net/http"
	"strings"

	"smartqueue/booking-service/internal/models"
)

// Actor is the capability tag supplied by the identity collaborator. The
// service never manages identity itself; it only consumes the role tag the
// gateway attaches to each request.
type Actor struct {
	ID   string
	Role string
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actorID := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
	role := strings.TrimSpace(r.Header.Get("X-Actor-Role"))
	if actorID == "" || role == "" {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "X-Actor-ID and X-Actor-Role headers are required")
		return Actor{}, false
	}
	if !models.IsValidRole(role) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "X-Actor-Role must be user, staff, or admin")
		return Actor{}, false
	}
	return Actor{ID: actorID, Role: role}, true
}
