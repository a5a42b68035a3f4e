package rbac

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/platinummonkey/gatehouse/pkg/apierror"
	"github.com/platinummonkey/gatehouse/pkg/kv"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Store handles role and binding persistence.
type Store struct {
	kv     kv.Store
	logger *observability.Logger
}

// NewStore creates a new role store.
func NewStore(store kv.Store, logger *observability.Logger) *Store {
	return &Store{kv: store, logger: logger}
}

// GetAllRoles returns every stored role. Records that fail to decode are
// skipped with a warning rather than failing the whole listing.
func (s *Store) GetAllRoles(ctx context.Context) ([]Role, error) {
	keys, err := s.kv.SMembers(ctx, roleSetKey)
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to list roles")
	}

	roles := make([]Role, 0, len(keys))
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			s.logger.WithField("key", key).Warn("role record missing for indexed key, skipping")
			continue
		}
		if err != nil {
			return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to load role")
		}

		var role Role
		if err := json.Unmarshal([]byte(raw), &role); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("failed to decode role record, skipping")
			continue
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// GetRole returns the role with the given id.
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	raw, err := s.kv.Get(ctx, RoleKey(roleID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, apierror.Newf(apierror.CodeNotFound, "role %s not found", roleID)
	}
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to load role")
	}

	var role Role
	if err := json.Unmarshal([]byte(raw), &role); err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to decode role record")
	}
	return &role, nil
}

// RoleExists reports whether a role record exists for the given id.
func (s *Store) RoleExists(ctx context.Context, roleID string) (bool, error) {
	ok, err := s.kv.Exists(ctx, RoleKey(roleID))
	if err != nil {
		return false, apierror.Wrap(err, apierror.CodeInternal, "failed to check role existence")
	}
	return ok, nil
}

// CreateOrUpdateRole stores the role and keeps the role index set in sync.
// It returns true when the role did not previously exist.
func (s *Store) CreateOrUpdateRole(ctx context.Context, role *Role) (bool, error) {
	if role == nil || role.ID == "" {
		return false, apierror.New(apierror.CodeBadRequest, "id is required")
	}

	existed, err := s.RoleExists(ctx, role.ID)
	if err != nil {
		return false, err
	}

	raw, err := json.Marshal(role)
	if err != nil {
		return false, apierror.Wrap(err, apierror.CodeInternal, "failed to encode role")
	}

	key := RoleKey(role.ID)
	batch := kv.NewBatch().
		Set(key, string(raw), 0).
		SAdd(roleSetKey, key)
	if err := s.kv.Apply(ctx, batch); err != nil {
		return false, apierror.Wrap(err, apierror.CodeInternal, "failed to store role")
	}
	return !existed, nil
}

// DeleteRole removes the role record and its index entry. Bindings that
// reference the role are left in place and treated as dangling by the
// authorization engine.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	existed, err := s.RoleExists(ctx, roleID)
	if err != nil {
		return err
	}
	if !existed {
		return apierror.Newf(apierror.CodeNotFound, "role %s not found", roleID)
	}

	key := RoleKey(roleID)
	batch := kv.NewBatch().
		Del(key).
		SRem(roleSetKey, key)
	if err := s.kv.Apply(ctx, batch); err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to delete role")
	}
	return nil
}

// GetBinding returns the binding with the given id.
func (s *Store) GetBinding(ctx context.Context, bindingID string) (*Binding, error) {
	raw, err := s.kv.Get(ctx, BindingKey(bindingID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, apierror.Newf(apierror.CodeNotFound, "role binding %s not found", bindingID)
	}
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to load role binding")
	}

	var binding Binding
	if err := json.Unmarshal([]byte(raw), &binding); err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to decode role binding record")
	}
	return &binding, nil
}

// GetBindingsForRole returns every binding that grants the given role.
// Records that fail to load or decode are skipped with a warning.
func (s *Store) GetBindingsForRole(ctx context.Context, roleID string) ([]Binding, error) {
	ids, err := s.kv.SMembers(ctx, RoleBindingsKey(roleID))
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to list role bindings")
	}

	bindings := make([]Binding, 0, len(ids))
	for _, id := range ids {
		raw, err := s.kv.Get(ctx, BindingKey(id))
		if errors.Is(err, kv.ErrNotFound) {
			s.logger.WithField("binding_id", id).Warn("binding record missing for indexed id, skipping")
			continue
		}
		if err != nil {
			return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to load role binding")
		}

		var binding Binding
		if err := json.Unmarshal([]byte(raw), &binding); err != nil {
			s.logger.WithError(err).WithField("binding_id", id).Warn("failed to decode binding record, skipping")
			continue
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

// BindingIDsForPrincipal returns the ids of all bindings held by a principal.
func (s *Store) BindingIDsForPrincipal(ctx context.Context, principalType, principalID string) ([]string, error) {
	ids, err := s.kv.SMembers(ctx, SubBindingsKey(principalType, principalID))
	if err != nil {
		return nil, apierror.Wrap(err, apierror.CodeInternal, "failed to list principal bindings")
	}
	return ids, nil
}

// CreateOrUpdateBinding stores the binding and keeps both the principal and
// role index sets in sync, moving index membership when an update changes the
// principal or the role. All writes happen in one transaction. It returns
// true when the binding did not previously exist.
func (s *Store) CreateOrUpdateBinding(ctx context.Context, binding *Binding) (bool, error) {
	if binding == nil || binding.ID == "" {
		return false, apierror.New(apierror.CodeBadRequest, "id is required")
	}
	if binding.RoleID == "" {
		return false, apierror.New(apierror.CodeBadRequest, "roleId must not be empty")
	}
	if binding.PrincipalID == "" {
		return false, apierror.New(apierror.CodeBadRequest, "principalId must not be empty")
	}
	if binding.PrincipalType == "" {
		binding.PrincipalType = PrincipalTypeUser
	}

	existing, err := s.GetBinding(ctx, binding.ID)
	if err != nil {
		if !apierror.Is(err, apierror.CodeNotFound) {
			return false, err
		}
		existing = nil
	}

	raw, err := json.Marshal(binding)
	if err != nil {
		return false, apierror.Wrap(err, apierror.CodeInternal, "failed to encode role binding")
	}

	batch := kv.NewBatch().Set(BindingKey(binding.ID), string(raw), 0)

	newSubKey := SubBindingsKey(binding.PrincipalType, binding.PrincipalID)
	newRoleKey := RoleBindingsKey(binding.RoleID)

	if existing == nil {
		batch.SAdd(newSubKey, binding.ID)
		batch.SAdd(newRoleKey, binding.ID)
	} else {
		oldSubKey := SubBindingsKey(existing.PrincipalType, existing.PrincipalID)
		if oldSubKey != newSubKey {
			batch.SRem(oldSubKey, binding.ID)
		}
		batch.SAdd(newSubKey, binding.ID)

		oldRoleKey := RoleBindingsKey(existing.RoleID)
		if oldRoleKey != newRoleKey {
			batch.SRem(oldRoleKey, binding.ID)
		}
		batch.SAdd(newRoleKey, binding.ID)
	}

	if err := s.kv.Apply(ctx, batch); err != nil {
		return false, apierror.Wrap(err, apierror.CodeInternal, "failed to store role binding")
	}
	return existing == nil, nil
}

// DeleteBinding removes the binding record and both of its index entries.
func (s *Store) DeleteBinding(ctx context.Context, bindingID string) error {
	binding, err := s.GetBinding(ctx, bindingID)
	if err != nil {
		return err
	}

	batch := kv.NewBatch().
		Del(BindingKey(bindingID)).
		SRem(SubBindingsKey(binding.PrincipalType, binding.PrincipalID), bindingID).
		SRem(RoleBindingsKey(binding.RoleID), bindingID)
	if err := s.kv.Apply(ctx, batch); err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to delete role binding")
	}
	return nil
}
