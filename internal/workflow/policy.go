package workflow

import (
	"fmt"
	"strings"

	"ctdms/internal/domain"
)

// Policy holds the two lookup tables that drive the engine: which actions are
// legal in which derived status, and which roles may invoke each action.
type Policy struct {
	Transitions map[domain.DocumentStatus][]domain.Action
	Permissions map[domain.Action][]domain.UserRole
}

var (
	authors  = []domain.UserRole{domain.RoleAdmin, domain.RoleStudyManager, domain.RoleDocumentAuthor}
	reviewer = []domain.UserRole{domain.RoleAdmin, domain.RoleStudyManager, domain.RoleReviewer}
	managers = []domain.UserRole{domain.RoleAdmin, domain.RoleStudyManager}
)

// DefaultPolicy returns the standard transition and permission tables.
func DefaultPolicy() Policy {
	return Policy{
		Transitions: map[domain.DocumentStatus][]domain.Action{
			domain.StatusDraft: {
				domain.ActionSubmitForReview,
				domain.ActionArchive,
				domain.ActionSoftDelete,
				domain.ActionUploadNewVersion,
				domain.ActionRestoreVersion,
			},
			domain.StatusInReview: {
				domain.ActionApprove,
				domain.ActionReject,
				domain.ActionSoftDelete,
			},
			domain.StatusApproved: {
				domain.ActionArchive,
				domain.ActionSoftDelete,
				domain.ActionRestoreVersion,
			},
			domain.StatusArchived: {domain.ActionUnarchive},
			domain.StatusDeleted:  {domain.ActionRestore},
		},
		Permissions: map[domain.Action][]domain.UserRole{
			domain.ActionSubmitForReview:  authors,
			domain.ActionUploadNewVersion: authors,
			domain.ActionApprove:          reviewer,
			domain.ActionReject:           reviewer,
			domain.ActionArchive:          managers,
			domain.ActionUnarchive:        managers,
			domain.ActionSoftDelete:       managers,
			domain.ActionRestoreVersion:   managers,
			domain.ActionRestore:          {domain.RoleAdmin},
		},
	}
}

// WithPermissions returns a copy of p whose permission table has the given
// actions replaced.
func (p Policy) WithPermissions(overrides map[domain.Action][]domain.UserRole) Policy {
	out := p.clone()
	for action, roles := range overrides {
		out.Permissions[action] = append([]domain.UserRole(nil), roles...)
	}
	return out
}

func (p Policy) clone() Policy {
	out := Policy{
		Transitions: make(map[domain.DocumentStatus][]domain.Action, len(p.Transitions)),
		Permissions: make(map[domain.Action][]domain.UserRole, len(p.Permissions)),
	}
	for k, v := range p.Transitions {
		out.Transitions[k] = append([]domain.Action(nil), v...)
	}
	for k, v := range p.Permissions {
		out.Permissions[k] = append([]domain.UserRole(nil), v...)
	}
	return out
}

// ParsePermissions parses an override string of the form
// "APPROVE=admin|reviewer;ARCHIVE=admin".
func ParsePermissions(raw string) (map[domain.Action][]domain.UserRole, error) {
	out := map[domain.Action][]domain.UserRole{}
	for _, clause := range strings.Split(raw, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		name, list, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("workflow.ParsePermissions: malformed clause %q", clause)
		}
		action := domain.Action(strings.ToUpper(strings.TrimSpace(name)))
		if !action.IsValid() {
			return nil, fmt.Errorf("workflow.ParsePermissions: unknown action %q", name)
		}
		var roles []domain.UserRole
		for _, r := range strings.Split(list, "|") {
			role := domain.UserRole(strings.TrimSpace(r))
			if role == "" {
				continue
			}
			if !domain.ValidRoles[role] {
				return nil, fmt.Errorf("workflow.ParsePermissions: unknown role %q for %s", r, action)
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("workflow.ParsePermissions: no roles for %s", action)
		}
		out[action] = roles
	}
	return out, nil
}
