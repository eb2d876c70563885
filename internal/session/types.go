package session

import (
	"maps"
	"time"

	"github.com/spf13/cast"
)

// 持久化键
const (
	KeyAccessToken = "Access-Token"
	KeyUserInfo    = "User-Info"
	KeyUserRoles   = "User-Roles"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Role 路由可见性角色，不代表服务端授权
type Role struct {
	ID             string   `json:"id"`
	PermissionList []string `json:"permissionList"`
}

// UserInfo 后端返回的用户信息，字段不固定
type UserInfo map[string]any

func (i UserInfo) String(key string) string {
	if i == nil {
		return ""
	}
	return cast.ToString(i[key])
}

func (i UserInfo) Nickname() string { return i.String("nickname") }
func (i UserInfo) Username() string { return i.String("username") }
func (i UserInfo) Avatar() string   { return i.String("avatar") }
func (i UserInfo) Email() string    { return i.String("email") }

// Merge 返回合并 patch 后的新副本
func (i UserInfo) Merge(patch map[string]any) UserInfo {
	out := make(UserInfo, len(i)+len(patch))
	maps.Copy(out, i)
	maps.Copy(out, patch)
	return out
}

func (i UserInfo) Clone() UserInfo {
	if i == nil {
		return UserInfo{}
	}
	return maps.Clone(i)
}

// Session 当前会话快照
type Session struct {
	Token     string
	Info      UserInfo
	Roles     []Role
	Name      string
	Avatar    string
	State     State
	ExpiresAt time.Time
}

func (s Session) clone() Session {
	out := s
	out.Info = s.Info.Clone()
	out.Roles = cloneRoles(s.Roles)
	return out
}

func cloneRoles(roles []Role) []Role {
	if roles == nil {
		return []Role{}
	}
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = Role{ID: r.ID, PermissionList: append([]string{}, r.PermissionList...)}
	}
	return out
}

// PasswordCredentials 账号密码登录
type PasswordCredentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// EmailCredentials 邮箱验证码登录
type EmailCredentials struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

// MobileCredentials 手机验证码登录
type MobileCredentials struct {
	Mobile string `json:"mobile" validate:"required"`
	Code   string `json:"code" validate:"required"`
}

// OAuthCallback 第三方登录回调参数
type OAuthCallback struct {
	Provider string `json:"provider" validate:"required,oneof=google github"`
	Code     string `json:"code" validate:"required"`
	State    string `json:"state,omitempty"`
}
