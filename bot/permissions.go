package bot

// PermissionManager resolves whether an account holds a named
// permission. Bot wires a map-backed implementation built
// from configuration by default; callers may supply their own.
type PermissionManager interface {
	HasPermission(account, permission string) bool
}

type mapPermissionManager struct {
	byAccount map[string]map[string]struct{}
}

// NewMapPermissionManager builds a PermissionManager from an account ->
// permission-list map, the shape the Permissions option configures.
func NewMapPermissionManager(perms map[string][]string) PermissionManager {
	m := &mapPermissionManager{byAccount: map[string]map[string]struct{}{}}
	for account, list := range perms {
		set := make(map[string]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		m.byAccount[account] = set
	}
	return m
}

func (m *mapPermissionManager) HasPermission(account, permission string) bool {
	if account == "" {
		return false
	}
	set, ok := m.byAccount[account]
	if !ok {
		return false
	}
	_, ok = set[permission]
	return ok
}

// PermissionDeniedError is reported when a handler's required permission
// is not held by the invoker; it is an info-level outcome, not an
// error.
type PermissionDeniedError struct {
	Command    string
	Permission string
	Account    string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Command + " requires " + e.Permission
}
