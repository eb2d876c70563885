package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	methodPassword = "password"
	methodEmail    = "email"
	methodMobile   = "mobile"
	methodOAuth    = "oauth"
	methodWeb3     = "web3"
)

// loginFlow 各登录方式的差异：接口、响应中用户信息的键、无角色时的兜底
type loginFlow struct {
	method   string
	url      string
	infoKeys []string
	fallback Role
}

var (
	passwordFlow = loginFlow{
		method:   methodPassword,
		url:      "/api/user/login",
		infoKeys: []string{"userinfo", "userInfo"},
		fallback: AdminRole(),
	}
	emailFlow = loginFlow{
		method:   methodEmail,
		url:      "/api/user/emailLogin",
		infoKeys: []string{"userInfo", "userinfo"},
		fallback: DefaultRole(),
	}
	mobileFlow = loginFlow{
		method:   methodMobile,
		url:      "/api/user/mobileLogin",
		infoKeys: []string{"userInfo", "userinfo"},
		fallback: DefaultRole(),
	}
	oauthFlow = loginFlow{
		method:   methodOAuth,
		url:      "/api/user/oauth/callback",
		infoKeys: []string{"userInfo", "userinfo"},
		fallback: DefaultRole(),
	}
)

// Login 账号密码登录
func (s *Store) Login(ctx context.Context, creds PasswordCredentials) (Session, error) {
	return s.login(ctx, passwordFlow, creds)
}

// EmailLogin 邮箱验证码登录
func (s *Store) EmailLogin(ctx context.Context, creds EmailCredentials) (Session, error) {
	return s.login(ctx, emailFlow, creds)
}

// MobileLogin 手机验证码登录
func (s *Store) MobileLogin(ctx context.Context, creds MobileCredentials) (Session, error) {
	return s.login(ctx, mobileFlow, creds)
}

// OAuthLogin Google / GitHub 回调登录
func (s *Store) OAuthLogin(ctx context.Context, cb OAuthCallback) (Session, error) {
	return s.login(ctx, oauthFlow, cb)
}

func (s *Store) login(ctx context.Context, flow loginFlow, payload any) (Session, error) {
	if err := validate.Struct(payload); err != nil {
		s.observe(flow.method, "invalid")
		return Session{}, err
	}

	prev := s.begin()

	sess, err := s.doLogin(ctx, flow, payload)
	if err != nil {
		s.abort(prev)
		s.observe(flow.method, "error")
		logger.Warn().Err(err).Str("method", flow.method).Msg("login failed")
		return Session{}, err
	}

	s.observe(flow.method, "ok")
	logger.Info().Str("method", flow.method).Str("name", sess.Name).Msg("login success")

	return sess, nil
}

func (s *Store) doLogin(ctx context.Context, flow loginFlow, payload any) (Session, error) {
	op := "login(" + flow.method + ")"

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    flow.url,
		Method: "post",
		Data:   payload,
	}, "Login failed")
	if err != nil {
		return Session{}, err
	}
	if !env.HasData() {
		return Session{}, &transport.StateError{Op: op, Field: "data"}
	}

	token := env.Get("token").String()
	if token == "" {
		return Session{}, &transport.StateError{Op: op, Field: "data.token"}
	}

	info := UserInfo{}
	for _, key := range flow.infoKeys {
		res := env.Get(key)
		if !res.Exists() || !res.IsObject() {
			continue
		}
		if err = json.Unmarshal([]byte(res.Raw), &info); err != nil {
			return Session{}, &transport.StateError{Op: op, Field: "data." + key, Err: err}
		}
		break
	}

	roles := []Role{flow.fallback}
	if hasRoles(info) {
		roles = ResolveRoles(info)
	}

	return s.commit(ctx, token, info, roles), nil
}

// FinalizeWeb3Login 提交钱包签名流程在外部获得的 token 与用户信息
func (s *Store) FinalizeWeb3Login(ctx context.Context, token string, info UserInfo) (Session, error) {
	if token == "" || len(info) == 0 {
		s.observe(methodWeb3, "invalid")
		return Session{}, &transport.StateError{Op: "login(web3)", Field: "token/userInfo"}
	}

	sess := s.commit(ctx, token, info.Clone(), ResolveRoles(info))
	s.observe(methodWeb3, "ok")
	logger.Info().Str("method", methodWeb3).Str("name", sess.Name).Msg("login success")

	return sess, nil
}

// fetchInfo 拉取后端用户信息
func (s *Store) fetchInfo(ctx context.Context) (UserInfo, error) {
	if s.Token() == "" {
		return nil, ErrNotAuthenticated
	}

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    "/api/user/info",
		Method: "get",
	}, "Failed to fetch user info")
	if err != nil {
		return nil, err
	}

	info := UserInfo{}
	if err = env.Decode("fetch user info", &info); err != nil {
		return nil, err
	}
	if len(info) == 0 {
		return nil, &transport.StateError{Op: "fetch user info", Field: "data"}
	}

	return info, nil
}

// RefreshInfo 拉取后端用户信息并合并到本地，失败时保留本地缓存
func (s *Store) RefreshInfo(ctx context.Context) (UserInfo, error) {
	fresh, err := s.fetchInfo(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	info := s.sess.Info.Merge(fresh)
	s.sess.Info = info
	if name := firstNonEmpty(fresh.Nickname(), fresh.Username()); name != "" {
		s.sess.Name = name
	}
	if avatar := fresh.Avatar(); avatar != "" {
		s.sess.Avatar = avatar
	}
	s.mu.Unlock()

	s.persist(ctx, KeyUserInfo, info, s.expiry())

	return info.Clone(), nil
}

// EnsureInfo 保证角色已从用户信息推导；本地无用户信息时先向后端拉取
func (s *Store) EnsureInfo(ctx context.Context) (UserInfo, error) {
	s.mu.RLock()
	cached := s.sess.Info.Clone()
	s.mu.RUnlock()

	if len(cached) > 0 {
		roles := ResolveRoles(cached)

		s.mu.Lock()
		s.sess.Roles = roles
		s.mu.Unlock()

		s.persist(ctx, KeyUserRoles, roles, s.expiry())
		return cached, nil
	}

	info, err := s.fetchInfo(ctx)
	if err != nil {
		return nil, err
	}
	roles := ResolveRoles(info)

	s.mu.Lock()
	s.sess.Info = info
	s.sess.Roles = roles
	if name := firstNonEmpty(info.Nickname(), info.Username()); name != "" {
		s.sess.Name = name
	}
	if avatar := info.Avatar(); avatar != "" {
		s.sess.Avatar = avatar
	}
	s.mu.Unlock()

	expiresAt := s.expiry()
	s.persist(ctx, KeyUserInfo, info, expiresAt)
	s.persist(ctx, KeyUserRoles, roles, expiresAt)

	return info.Clone(), nil
}

// UpdateInfo 提交用户信息修改，成功后合并到本地
func (s *Store) UpdateInfo(ctx context.Context, patch map[string]any) (UserInfo, error) {
	if s.Token() == "" {
		return nil, ErrNotAuthenticated
	}
	if len(patch) == 0 {
		return nil, errors.New("session: empty user info patch")
	}

	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    "/api/user/update",
		Method: "post",
		Data:   patch,
	}, "Update failed"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	info := s.sess.Info.Merge(patch)
	s.sess.Info = info
	if name := info.Nickname(); name != "" {
		s.sess.Name = name
	}
	s.mu.Unlock()

	s.persist(ctx, KeyUserInfo, info, s.expiry())

	return info.Clone(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
