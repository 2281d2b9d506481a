package workflow

import (
	"ctdms/internal/domain"
)

// Engine decides whether an action is currently legal for a document and
// whether an actor may invoke it. It holds no state beyond its policy.
type Engine struct {
	policy Policy
}

// NewEngine creates an Engine over a private copy of p.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p.clone()}
}

// AllowedActions returns the actions legal in status, in table order.
func (e *Engine) AllowedActions(status domain.DocumentStatus) []domain.Action {
	return append([]domain.Action(nil), e.policy.Transitions[status]...)
}

// AllowedRoles returns the roles permitted to invoke action.
func (e *Engine) AllowedRoles(action domain.Action) []domain.UserRole {
	return append([]domain.UserRole(nil), e.policy.Permissions[action]...)
}

// CanCreate checks that actor may create a new document. Creation uses the
// permission set of UPLOAD_NEW_VERSION.
func (e *Engine) CanCreate(actor domain.Actor) error {
	roles := e.AllowedRoles(domain.ActionUploadNewVersion)
	if !actor.HasAnyRole(roles...) {
		return &domain.WorkflowError{
			Kind:         domain.ErrForbidden,
			Check:        domain.CheckRole,
			Action:       domain.ActionUploadNewVersion,
			Status:       domain.StatusDraft,
			AllowedRoles: roles,
			Detail:       "creating documents",
		}
	}
	return nil
}

// Check returns nil when actor may invoke action on state right now. Checks
// run in order: status legality, role permission, then the review rules that
// apply to APPROVE and REJECT.
func (e *Engine) Check(state *domain.DocumentState, actor domain.Actor, action domain.Action) error {
	status := state.Status()
	allowedActions := e.AllowedActions(status)
	allowedRoles := e.AllowedRoles(action)

	reject := func(kind error, check, detail string) error {
		return &domain.WorkflowError{
			Kind:           kind,
			Check:          check,
			Action:         action,
			Status:         status,
			AllowedActions: allowedActions,
			AllowedRoles:   allowedRoles,
			Detail:         detail,
		}
	}

	if !containsAction(allowedActions, action) {
		return reject(domain.ErrConflict, domain.CheckStatus, "")
	}
	if !actor.HasAnyRole(allowedRoles...) {
		return reject(domain.ErrForbidden, domain.CheckRole, "")
	}

	if action == domain.ActionApprove || action == domain.ActionReject {
		cur := state.Current
		if cur == nil || cur.ReviewStatus != domain.ReviewStatusSubmitted {
			return reject(domain.ErrConflict, domain.CheckStatus, "current version is not submitted for review")
		}
		if cur.ReviewSubmittedTo != nil && *cur.ReviewSubmittedTo != actor.ID {
			return reject(domain.ErrForbidden, domain.CheckReviewer, "review is assigned to "+cur.ReviewSubmittedTo.String())
		}
	}
	return nil
}

// AvailableActions returns every action for which Check would pass.
func (e *Engine) AvailableActions(state *domain.DocumentState, actor domain.Actor) []domain.Action {
	out := []domain.Action{}
	for _, action := range e.AllowedActions(state.Status()) {
		if e.Check(state, actor, action) == nil {
			out = append(out, action)
		}
	}
	return out
}

func containsAction(list []domain.Action, a domain.Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
