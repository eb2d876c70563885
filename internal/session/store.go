package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/utrading/qd-client/internal/storage"
	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	defaultTTL    = 7 * 24 * time.Hour
	defaultAvatar = "/avatar2.jpg"
	defaultName   = "User"
)

var ErrNotAuthenticated = errors.New("session: not authenticated")

var validate = validator.New()

// Observer 登录结果观察者（指标）
type Observer interface {
	ObserveLogin(method, outcome string)
}

// Store 会话状态机。内存提交在锁内完成，网络请求与持久化在锁外进行；
// 并发登录不互斥，最后完成的一次生效。
type Store struct {
	requester transport.Requester
	storage   storage.Store
	ttl       time.Duration
	avatar    string
	observer  Observer
	now       func() time.Time

	mu   sync.RWMutex
	sess Session
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithDefaultAvatar(avatar string) Option {
	return func(s *Store) {
		if avatar != "" {
			s.avatar = avatar
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

func NewStore(requester transport.Requester, st storage.Store, opts ...Option) *Store {
	s := &Store{
		requester: requester,
		storage:   st,
		ttl:       defaultTTL,
		avatar:    defaultAvatar,
		now:       time.Now,
		sess: Session{
			Info:  UserInfo{},
			Roles: []Role{},
			State: StateAnonymous,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Snapshot 返回会话副本
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.clone()
}

// Token 当前 token，供传输层注入 Authorization
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.Token
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.State
}

func (s *Store) Authenticated() bool {
	return s.State() == StateAuthenticated
}

func (s *Store) Roles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRoles(s.sess.Roles)
}

// Restore 从持久化存储恢复会话
func (s *Store) Restore(ctx context.Context) error {
	var (
		token     string
		expiresAt time.Time
		info      = UserInfo{}
		roles     = []Role{}
	)

	raw, err := s.storage.Get(ctx, KeyAccessToken)
	switch {
	case err == nil:
		token, expiresAt = decodeToken(raw)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	raw, err = s.storage.Get(ctx, KeyUserInfo)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &info); jsonErr != nil || info == nil {
			logger.Warn().Err(jsonErr).Msg("stored user info is malformed, ignored")
			info = UserInfo{}
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	raw, err = s.storage.Get(ctx, KeyUserRoles)
	switch {
	case err == nil:
		var v any
		if jsonErr := json.Unmarshal(raw, &v); jsonErr != nil {
			logger.Warn().Err(jsonErr).Msg("stored user roles are malformed, ignored")
		} else if r := normalizeRoles(v); r != nil {
			roles = r
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	state := StateAnonymous
	name, avatar := "", ""
	if token != "" {
		state = StateAuthenticated
		name, avatar = s.display(info)
		// 角色键缺失或过期时从用户信息重新推导，已登录会话的角色不为空
		if len(roles) == 0 {
			roles = ResolveRoles(info)
		}
	}

	s.mu.Lock()
	s.sess = Session{
		Token:     token,
		Info:      info,
		Roles:     roles,
		Name:      name,
		Avatar:    avatar,
		State:     state,
		ExpiresAt: expiresAt,
	}
	s.mu.Unlock()

	logger.Info().Str("state", state.String()).Int("roles", len(roles)).Msg("session restored")

	return nil
}

// storedToken token 持久化格式，恢复时也接受纯字符串
type storedToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix ms
}

func decodeToken(raw []byte) (string, time.Time) {
	if !gjson.ValidBytes(raw) {
		return string(raw), time.Time{}
	}
	res := gjson.ParseBytes(raw)
	switch {
	case res.Type == gjson.String:
		return res.String(), time.Time{}
	case res.IsObject():
		var expiresAt time.Time
		if ms := res.Get("expires_at").Int(); ms > 0 {
			expiresAt = time.UnixMilli(ms)
		}
		return res.Get("token").String(), expiresAt
	}
	return "", time.Time{}
}

// display 根据用户信息计算显示名与头像
func (s *Store) display(info UserInfo) (string, string) {
	name := info.Nickname()
	if name == "" {
		name = info.Username()
	}
	if name == "" {
		name = defaultName
	}
	avatar := info.Avatar()
	if avatar == "" {
		avatar = s.avatar
	}
	return name, avatar
}

// begin 进入 Authenticating，返回调用前状态用于失败回滚
func (s *Store) begin() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sess.State
	s.sess.State = StateAuthenticating
	return prev
}

func (s *Store) abort(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess.State == StateAuthenticating {
		s.sess.State = prev
	}
}

// commit 原子替换会话并以同一过期时间持久化三个键
func (s *Store) commit(ctx context.Context, token string, info UserInfo, roles []Role) Session {
	name, avatar := s.display(info)
	expiresAt := s.now().Add(s.ttl)

	next := Session{
		Token:     token,
		Info:      info,
		Roles:     roles,
		Name:      name,
		Avatar:    avatar,
		State:     StateAuthenticated,
		ExpiresAt: expiresAt,
	}

	s.mu.Lock()
	s.sess = next
	snapshot := s.sess.clone()
	s.mu.Unlock()

	s.persist(ctx, KeyAccessToken, storedToken{Token: token, ExpiresAt: expiresAt.UnixMilli()}, expiresAt)
	s.persist(ctx, KeyUserInfo, info, expiresAt)
	s.persist(ctx, KeyUserRoles, roles, expiresAt)

	return snapshot
}

// persist 持久化失败只记录日志，内存状态保持有效
func (s *Store) persist(ctx context.Context, key string, v any, expiresAt time.Time) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("marshal session value failed")
		return
	}
	if err = s.storage.Set(ctx, key, data, expiresAt); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("persist session value failed")
	}
}

// expiry 已有会话的过期时间，缺失时重新计算
func (s *Store) expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess.ExpiresAt.IsZero() {
		return s.now().Add(s.ttl)
	}
	return s.sess.ExpiresAt
}

// Logout 尽力通知后端，本地状态与持久化键总是被清除，不返回错误
func (s *Store) Logout(ctx context.Context) {
	if s.Token() != "" {
		if _, err := transport.Call(ctx, s.requester, transport.Request{
			URL:    "/api/user/logout",
			Method: "post",
		}, "Logout failed"); err != nil {
			logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}

	s.mu.Lock()
	s.sess = Session{
		Info:  UserInfo{},
		Roles: []Role{},
		State: StateAnonymous,
	}
	s.mu.Unlock()

	for _, key := range []string{KeyAccessToken, KeyUserInfo, KeyUserRoles} {
		if err := s.storage.Remove(ctx, key); err != nil {
			logger.Error().Err(err).Str("key", key).Msg("remove session value failed")
		}
	}

	s.observe("logout", "ok")
	logger.Info().Msg("session logged out")
}

func (s *Store) observe(method, outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(method, outcome)
	}
}
