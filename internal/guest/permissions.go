package guest

import "sort"

type ModuleID string

const (
	ModuleInfostore ModuleID = "infostore"
	ModuleCalendar  ModuleID = "calendar"
	ModuleContacts  ModuleID = "contacts"
	ModuleTasks     ModuleID = "tasks"
)

// Permission is the bit set a guest account is allowed to use.
type Permission uint32

const (
	PermGuestBase Permission = 1 << iota
	PermInfostore
	PermCalendar
	PermContacts
	PermTasks
)

var modulePermissions = map[ModuleID]Permission{
	ModuleInfostore: PermInfostore,
	ModuleCalendar:  PermCalendar,
	ModuleContacts:  PermContacts,
	ModuleTasks:     PermTasks,
}

// RequiredPermissions returns the minimal bits needed to reach exactly the
// given modules. Unknown modules grant nothing.
func RequiredPermissions(modules []ModuleID) Permission {
	bits := PermGuestBase
	for _, m := range modules {
		bits |= modulePermissions[m]
	}
	return bits
}

// KnownModule reports whether m maps to a permission bit.
func KnownModule(m ModuleID) bool {
	_, ok := modulePermissions[m]
	return ok
}

// SortModules returns a sorted, de-duplicated copy.
func SortModules(modules []ModuleID) []ModuleID {
	seen := make(map[ModuleID]struct{}, len(modules))
	out := make([]ModuleID, 0, len(modules))
	for _, m := range modules {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
