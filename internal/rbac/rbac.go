package rbac

type Role string
type Action string

const (
	RoleRecruiter     Role = "recruiter"
	RoleHiringManager Role = "hiring_manager"
	RoleAdmin         Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionNote   Action = "note"
	ActionReact  Action = "react"
	ActionAssign Action = "assign"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleRecruiter:
		return action == ActionRead || action == ActionNote || action == ActionReact || action == ActionAssign
	case RoleHiringManager:
		return action == ActionRead || action == ActionNote || action == ActionReact
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleRecruiter, RoleHiringManager, RoleAdmin:
		return Role(role)
	default:
		return RoleRecruiter
	}
}

// CandidateAccess is the subset of a candidate needed for the access rule.
type CandidateAccess struct {
	CreatedBy  string
	AssignedTo []string
}

// CanAccessCandidate allows admins, the candidate's creator and its assignees.
func CanAccessCandidate(userID string, role Role, candidate CandidateAccess) bool {
	if role == RoleAdmin {
		return true
	}
	if userID == "" {
		return false
	}
	if candidate.CreatedBy == userID {
		return true
	}
	for _, assignee := range candidate.AssignedTo {
		if assignee == userID {
			return true
		}
	}
	return false
}

// CanModifyNote allows the note author and admins to edit or delete it.
func CanModifyNote(userID string, role Role, authorID string) bool {
	return role == RoleAdmin || (userID != "" && userID == authorID)
}

// CanSeeNote hides private notes from everyone but the author and admins.
func CanSeeNote(userID string, role Role, authorID string, private bool) bool {
	if !private {
		return true
	}
	return CanModifyNote(userID, role, authorID)
}
