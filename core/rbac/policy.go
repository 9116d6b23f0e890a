// Package rbac maps roles to coarse operation permissions. The HTTP layer
// consults it before handing a request to the domain; fine-grained scope
// checks (is this YOUR incident) belong to the authz gate.
package rbac

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
)

type Permission = string

const (
	PermIncidentsCreate         Permission = "incidents.create"
	PermIncidentsRead           Permission = "incidents.read"
	PermIncidentsApprove        Permission = "incidents.approve"
	PermIncidentsAssignDriver   Permission = "incidents.assign_driver"
	PermIncidentsDriverUpdate   Permission = "incidents.driver_update"
	PermIncidentsHospitalUpdate Permission = "incidents.hospital_update"
	PermIncidentsPhotos         Permission = "incidents.photos"
	PermNotificationsRead       Permission = "notifications.read"
	PermAccountsManage          Permission = "accounts.manage"
)

type Role struct {
	Name        string
	Permissions []Permission
}

// DefaultRoles is the fixed role set of the dispatch domain.
func DefaultRoles() []Role {
	return []Role{
		{Name: "superadmin", Permissions: []Permission{
			PermIncidentsCreate, PermIncidentsRead, PermIncidentsApprove,
			PermIncidentsAssignDriver, PermIncidentsDriverUpdate, PermIncidentsHospitalUpdate,
			PermIncidentsPhotos, PermNotificationsRead, PermAccountsManage,
		}},
		{Name: "admin", Permissions: []Permission{
			PermIncidentsRead, PermIncidentsApprove, PermIncidentsAssignDriver,
			PermIncidentsPhotos, PermNotificationsRead, PermAccountsManage,
		}},
		{Name: "department", Permissions: []Permission{
			PermIncidentsRead, PermIncidentsAssignDriver, PermNotificationsRead,
		}},
		{Name: "driver", Permissions: []Permission{
			PermIncidentsRead, PermIncidentsDriverUpdate, PermNotificationsRead,
		}},
		{Name: "hospital", Permissions: []Permission{
			PermIncidentsRead, PermIncidentsHospitalUpdate, PermNotificationsRead,
		}},
		{Name: "citizen", Permissions: []Permission{
			PermIncidentsCreate, PermIncidentsRead, PermIncidentsPhotos, PermNotificationsRead,
		}},
	}
}

const casbinModelText = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.perm == p.perm
`

// Policy wraps a casbin enforcer built from the in-code role grants.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	m, err := casbinmodel.NewModelFromString(casbinModelText)
	if err != nil {
		panic(fmt.Sprintf("rbac model: %v", err))
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(fmt.Sprintf("rbac enforcer: %v", err))
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			if _, err := e.AddPolicy(role.Name, perm); err != nil {
				panic(fmt.Sprintf("rbac policy %s/%s: %v", role.Name, perm, err))
			}
		}
	}
	return &Policy{enforcer: e}
}

// Allowed reports whether any of the roles grants the permission.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, perm)
		if err == nil && ok {
			return true
		}
	}
	return false
}
