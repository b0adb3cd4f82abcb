package store

import "smartqueue/booking-service/internal/models"

// transitionMap enumerates the allowed source statuses per target status.
// Edges not listed here are rejected regardless of actor.
var transitionMap = map[string][]string{
	models.StatusApproved:  {models.StatusPending},
	models.StatusRejected:  {models.StatusPending},
	models.StatusCheckedIn: {models.StatusApproved},
	models.StatusCompleted: {models.StatusCheckedIn},
	models.StatusCancelled: {models.StatusPending, models.StatusApproved, models.StatusCheckedIn},
}

func ValidTransition(fromStatus, target string) bool {
	allowed, ok := transitionMap[target]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// permissionMap is the static capability table keyed by target status. The
// actor role is a tag supplied by the identity collaborator; clients may only
// cancel or check in, staff and admins drive the review lifecycle.
var permissionMap = map[string][]string{
	models.StatusApproved:  {models.RoleStaff, models.RoleAdmin},
	models.StatusRejected:  {models.RoleStaff, models.RoleAdmin},
	models.StatusCheckedIn: {models.RoleUser, models.RoleStaff, models.RoleAdmin},
	models.StatusCompleted: {models.RoleStaff, models.RoleAdmin},
	models.StatusCancelled: {models.RoleUser, models.RoleStaff, models.RoleAdmin},
}

func RoleAllowed(role, target string) bool {
	allowed, ok := permissionMap[target]
	if !ok {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
