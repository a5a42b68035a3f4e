package rbac

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Engine evaluates authorization decisions against stored roles and
// bindings. A principal is allowed when any policy of any bound role grants
// the action on the resource; there is no explicit deny.
type Engine struct {
	store     *Store
	matcher   *Matcher
	rootUsers map[string]struct{}
	logger    *observability.Logger
}

// NewEngine creates an authorization engine. Subjects listed in rootUsers
// bypass policy evaluation entirely.
func NewEngine(store *Store, matcher *Matcher, rootUsers []string, logger *observability.Logger) *Engine {
	roots := make(map[string]struct{}, len(rootUsers))
	for _, u := range rootUsers {
		if u != "" {
			roots[u] = struct{}{}
		}
	}
	return &Engine{
		store:     store,
		matcher:   matcher,
		rootUsers: roots,
		logger:    logger,
	}
}

// Authorize decides whether sub may perform action on resource. Evaluation
// failures return an error and never fall through to an allow.
func (e *Engine) Authorize(ctx context.Context, sub, resource, action string) (Decision, error) {
	if _, ok := e.rootUsers[sub]; ok {
		return AllowDecision(), nil
	}

	bindingIDs, err := e.store.BindingIDsForPrincipal(ctx, PrincipalTypeUser, sub)
	if err != nil {
		return Decision{}, err
	}
	if len(bindingIDs) == 0 {
		return DenyDecision(), nil
	}

	for _, bindingID := range bindingIDs {
		binding, err := e.store.GetBinding(ctx, bindingID)
		if err != nil {
			return Decision{}, apierror.Wrapf(err, apierror.CodeInternal,
				"failed to load binding %s during authorization", bindingID)
		}

		exists, err := e.store.RoleExists(ctx, binding.RoleID)
		if err != nil {
			return Decision{}, err
		}
		if !exists {
			e.logger.WithFields(map[string]interface{}{
				"binding_id": bindingID,
				"role_id":    binding.RoleID,
				"sub":        sub,
			}).Warn("binding references a deleted role, skipping")
			continue
		}

		role, err := e.store.GetRole(ctx, binding.RoleID)
		if err != nil {
			return Decision{}, apierror.Wrapf(err, apierror.CodeInternal,
				"failed to load role %s during authorization", binding.RoleID)
		}

		for _, policy := range role.Policies {
			if !MatchAction(policy.Actions, action) {
				continue
			}
			matched, err := e.matcher.MatchResource(policy.Resource, resource)
			if err != nil {
				return Decision{}, apierror.Wrap(err, apierror.CodeInternal,
					"failed to evaluate resource pattern")
			}
			if matched {
				return AllowDecision(), nil
			}
		}
	}

	return DenyDecision(), nil
}
