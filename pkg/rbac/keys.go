package rbac

// Key layout in the backing store:
//
//	iam:role                              set of role record keys
//	iam:role:<roleId>                     serialized Role
//	iam:role-bindings:<bindingId>         serialized Binding
//	iam:role-bindings:roles:<roleId>      set of binding ids granting the role
//	iam:role-bindings:subs:<type>:<id>    set of binding ids held by the principal
const (
	roleSetKey        = "iam:role"
	rolePrefix        = "iam:role:"
	bindingPrefix     = "iam:role-bindings:"
	roleBindingsNS    = "iam:role-bindings:roles:"
	subjectBindingsNS = "iam:role-bindings:subs:"
)

// RoleKey returns the record key for a role.
func RoleKey(roleID string) string {
	return rolePrefix + roleID
}

// BindingKey returns the record key for a binding.
func BindingKey(bindingID string) string {
	return bindingPrefix + bindingID
}

// RoleBindingsKey returns the key of the set of binding ids granting roleID.
func RoleBindingsKey(roleID string) string {
	return roleBindingsNS + roleID
}

// SubBindingsKey returns the key of the set of binding ids held by a principal.
func SubBindingsKey(principalType, principalID string) string {
	return subjectBindingsNS + principalType + ":" + principalID
}
