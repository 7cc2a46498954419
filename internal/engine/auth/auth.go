package auth

import (
	"fmt"
	"sort"

	"caseline/internal/domain"
)

// Permissions checked by the engine and the HTTP layer.
const (
	PermActorVerify      = "actor.verify"
	PermActorReject      = "actor.reject"
	PermActorReadPending = "actor.read_pending"
	PermActorDocuments   = "actor.documents"
	PermCaseworkerCreate = "caseworker.create"
	PermCaseworkerRead   = "caseworker.read"
	PermCaseFile         = "case.file"
	PermCaseAssign       = "case.assign"
	PermCaseStatus       = "case.status"
	PermCaseReadAll      = "case.read_all"
	PermCaseEvidence     = "case.evidence"
	PermStatsRead        = "stats.read"
	PermEventsRead       = "events.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

var rolePermissions = map[domain.Role][]string{
	domain.RoleNone: {},
	domain.RoleSubmitter: {
		PermCaseFile,
		PermCaseEvidence,
	},
	domain.RoleCaseworker: {
		PermActorVerify,
		PermActorReadPending,
		PermCaseworkerRead,
		PermCaseStatus,
		PermCaseEvidence,
		PermStatsRead,
	},
	domain.RoleAdmin: {
		PermActorVerify,
		PermActorReject,
		PermActorReadPending,
		PermActorDocuments,
		PermCaseworkerCreate,
		PermCaseworkerRead,
		PermCaseAssign,
		PermCaseStatus,
		PermCaseReadAll,
		PermCaseEvidence,
		PermStatsRead,
		PermEventsRead,
	},
}

// Permissions lists the permissions granted to role, sorted.
func Permissions(role domain.Role) []string {
	perms := append([]string(nil), rolePermissions[role]...)
	sort.Strings(perms)
	return perms
}

// ActorHasPermission reports whether a verified actor's role grants perm.
// Unverified actors hold no permissions whatever their role.
func ActorHasPermission(a domain.Actor, perm string) bool {
	if a.Status != domain.VerificationVerified {
		return false
	}
	for _, p := range rolePermissions[a.Role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless a holds perm.
func Require(a domain.Actor, perm string) error {
	if !ActorHasPermission(a, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
