package session

import (
	"github.com/spf13/cast"
)

// DefaultRole 后端未返回角色时使用，避免路由守卫卡死
func DefaultRole() Role {
	return Role{ID: "default", PermissionList: []string{}}
}

// AdminRole 账号密码登录且后端未返回角色时使用
func AdminRole() Role {
	return Role{ID: "admin", PermissionList: []string{"dashboard", "exception", "account"}}
}

// ResolveRoles 从用户信息推导角色：role 优先，其次 roles，都没有时返回默认角色。
// 结果总是非空，同一输入多次调用结果相同。
func ResolveRoles(info UserInfo) []Role {
	roles := normalizeRoles(rawRoles(info))
	if len(roles) == 0 {
		return []Role{DefaultRole()}
	}
	return roles
}

// hasRoles 用户信息中是否携带了可用的角色
func hasRoles(info UserInfo) bool {
	return len(normalizeRoles(rawRoles(info))) > 0
}

func rawRoles(info UserInfo) any {
	if info == nil {
		return nil
	}
	if v, ok := info["role"]; ok && !isEmpty(v) {
		return v
	}
	if v, ok := info["roles"]; ok && !isEmpty(v) {
		return v
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	}
	return false
}

func normalizeRoles(v any) []Role {
	switch t := v.(type) {
	case nil:
		return nil
	case []Role:
		return cloneRoles(t)
	case []any:
		out := make([]Role, 0, len(t))
		for _, item := range t {
			if r, ok := normalizeRole(item); ok {
				out = append(out, r)
			}
		}
		return out
	case []string:
		out := make([]Role, 0, len(t))
		for _, item := range t {
			if r, ok := normalizeRole(item); ok {
				out = append(out, r)
			}
		}
		return out
	case []map[string]any:
		out := make([]Role, 0, len(t))
		for _, item := range t {
			if r, ok := normalizeRole(item); ok {
				out = append(out, r)
			}
		}
		return out
	}

	if r, ok := normalizeRole(v); ok {
		return []Role{r}
	}
	return nil
}

func normalizeRole(v any) (Role, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return Role{}, false
		}
		return Role{ID: t, PermissionList: []string{}}, true
	case Role:
		if t.ID == "" {
			return Role{}, false
		}
		return cloneRoles([]Role{t})[0], true
	case map[string]any:
		id := cast.ToString(t["id"])
		if id == "" {
			return Role{}, false
		}
		perms := t["permissionList"]
		if perms == nil {
			perms = t["permissions"]
		}
		list := cast.ToStringSlice(perms)
		if list == nil {
			list = []string{}
		}
		return Role{ID: id, PermissionList: list}, true
	}
	return Role{}, false
}
