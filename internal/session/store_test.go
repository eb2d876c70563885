package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/qd-client/internal/storage"
	"github.com/utrading/qd-client/internal/transport"
)

// fakeBackend 按路径返回预设响应
type fakeBackend struct {
	mu       sync.Mutex
	handlers map[string]func(req transport.Request) (*transport.Envelope, error)
	calls    []transport.Request
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handlers: map[string]func(req transport.Request) (*transport.Envelope, error){}}
}

func (b *fakeBackend) on(url string, body string) {
	b.handlers[url] = func(transport.Request) (*transport.Envelope, error) {
		return transport.ParseEnvelope([]byte(body))
	}
}

func (b *fakeBackend) fail(url string, err error) {
	b.handlers[url] = func(transport.Request) (*transport.Envelope, error) {
		return nil, err
	}
}

func (b *fakeBackend) Do(ctx context.Context, req transport.Request) (*transport.Envelope, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	h, ok := b.handlers[req.URL]
	b.mu.Unlock()
	if !ok {
		return nil, &transport.TransportError{Op: req.URL, Status: 404, Err: errors.New("no handler")}
	}
	return h(req)
}

func (b *fakeBackend) called(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.URL == url {
			n++
		}
	}
	return n
}

type countObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countObserver) ObserveLogin(method, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[method+"/"+outcome]++
}

func newTestStore(t *testing.T, b *fakeBackend, opts ...Option) (*Store, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	return NewStore(b, mem, opts...), mem
}

func TestResolveRoles(t *testing.T) {
	tests := []struct {
		name string
		info UserInfo
		want []Role
	}{
		{
			name: "empty info",
			info: UserInfo{},
			want: []Role{{ID: "default", PermissionList: []string{}}},
		},
		{
			name: "nil info",
			info: nil,
			want: []Role{DefaultRole()},
		},
		{
			name: "single role object with permissions key",
			info: UserInfo{"role": map[string]any{"id": "admin", "permissions": []any{"dashboard", "account"}}},
			want: []Role{{ID: "admin", PermissionList: []string{"dashboard", "account"}}},
		},
		{
			name: "role preferred over roles",
			info: UserInfo{
				"role":  map[string]any{"id": "owner", "permissionList": []any{"x"}},
				"roles": []any{map[string]any{"id": "viewer"}},
			},
			want: []Role{{ID: "owner", PermissionList: []string{"x"}}},
		},
		{
			name: "roles list mixing strings and objects",
			info: UserInfo{"roles": []any{"trader", map[string]any{"id": "viewer", "permissionList": []any{"dashboard"}}}},
			want: []Role{
				{ID: "trader", PermissionList: []string{}},
				{ID: "viewer", PermissionList: []string{"dashboard"}},
			},
		},
		{
			name: "empty role falls through to roles",
			info: UserInfo{"role": "", "roles": "analyst"},
			want: []Role{{ID: "analyst", PermissionList: []string{}}},
		},
		{
			name: "unusable roles fall back to default",
			info: UserInfo{"roles": []any{map[string]any{"permissionList": []any{"a"}}}},
			want: []Role{DefaultRole()},
		},
		{
			name: "numeric id",
			info: UserInfo{"role": map[string]any{"id": 7}},
			want: []Role{{ID: "7", PermissionList: []string{}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := ResolveRoles(tt.info)
			assert.Equal(t, tt.want, first)
			assert.NotEmpty(t, first)
			// 幂等
			assert.Equal(t, first, ResolveRoles(tt.info))
		})
	}
}

func TestLogin_Success(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"msg":"ok","data":{"token":"t1","userinfo":{"username":"bob"}}}`)
	obs := &countObserver{}
	s, mem := newTestStore(t, b, WithObserver(obs))

	sess, err := s.Login(context.Background(), PasswordCredentials{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	assert.Equal(t, "t1", sess.Token)
	assert.Equal(t, "bob", sess.Name)
	assert.Equal(t, "/avatar2.jpg", sess.Avatar)
	assert.Equal(t, StateAuthenticated, sess.State)
	require.Len(t, sess.Roles, 1)
	assert.Equal(t, "admin", sess.Roles[0].ID)
	assert.Equal(t, []string{"dashboard", "exception", "account"}, sess.Roles[0].PermissionList)

	assert.Equal(t, "t1", s.Token())
	assert.Equal(t, 1, obs.counts["password/ok"])

	// 三个键都已持久化
	for _, key := range []string{KeyAccessToken, KeyUserInfo, KeyUserRoles} {
		_, err := mem.Get(context.Background(), key)
		assert.NoError(t, err, key)
	}
}

func TestLogin_NicknameAndRolesFromInfo(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t2","userinfo":{"username":"admin","nickname":"Admin","avatar":"/a.png","role":{"id":"ops","permissions":["dashboard"]}}}}`)
	s, _ := newTestStore(t, b)

	sess, err := s.Login(context.Background(), PasswordCredentials{Username: "admin", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Admin", sess.Name)
	assert.Equal(t, "/a.png", sess.Avatar)
	assert.Equal(t, []Role{{ID: "ops", PermissionList: []string{"dashboard"}}}, sess.Roles)
}

func TestLogin_MissingDataKeepsPreviousState(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"old","userinfo":{"nickname":"Old"}}}`)
	s, _ := newTestStore(t, b)

	before, err := s.Login(context.Background(), PasswordCredentials{Username: "u", Password: "p"})
	require.NoError(t, err)

	cases := map[string]string{
		"missing data":  `{"code":1,"msg":"ok"}`,
		"null data":     `{"code":1,"data":null}`,
		"missing token": `{"code":1,"data":{"userinfo":{"nickname":"New"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			b.on("/api/user/login", body)
			_, err := s.Login(context.Background(), PasswordCredentials{Username: "u", Password: "p"})
			require.Error(t, err)
			assert.True(t, transport.IsStateError(err))

			after := s.Snapshot()
			assert.Equal(t, before.Token, after.Token)
			assert.Equal(t, before.Name, after.Name)
			assert.Equal(t, before.Roles, after.Roles)
			assert.Equal(t, StateAuthenticated, after.State)
		})
	}
}

func TestLogin_AppErrorFromAnonymous(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":0,"msg":"Invalid credentials","data":null}`)
	s, mem := newTestStore(t, b)

	_, err := s.Login(context.Background(), PasswordCredentials{Username: "u", Password: "bad"})
	require.Error(t, err)
	assert.True(t, transport.IsAppError(err))
	assert.Equal(t, "Invalid credentials", err.Error())

	sess := s.Snapshot()
	assert.Equal(t, StateAnonymous, sess.State)
	assert.Empty(t, sess.Token)
	assert.Empty(t, sess.Roles)

	_, err = mem.Get(context.Background(), KeyAccessToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogin_FallbackMessage(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":500}`)
	s, _ := newTestStore(t, b)

	_, err := s.Login(context.Background(), PasswordCredentials{Username: "u", Password: "p"})
	require.Error(t, err)
	assert.Equal(t, "Login failed", err.Error())
}

func TestLogin_InvalidInputNotSent(t *testing.T) {
	b := newFakeBackend()
	s, _ := newTestStore(t, b)

	_, err := s.Login(context.Background(), PasswordCredentials{Username: "u"})
	require.Error(t, err)
	assert.Equal(t, 0, b.called("/api/user/login"))

	_, err = s.EmailLogin(context.Background(), EmailCredentials{Email: "not-an-email", Code: "1"})
	require.Error(t, err)

	_, err = s.OAuthLogin(context.Background(), OAuthCallback{Provider: "facebook", Code: "c"})
	require.Error(t, err)
	assert.Empty(t, b.calls)
}

func TestEmailMobileOAuthLogin(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/emailLogin", `{"code":1,"data":{"token":"e1","userInfo":{"username":"mail"}}}`)
	b.on("/api/user/mobileLogin", `{"code":1,"data":{"token":"m1","userInfo":{"nickname":"Phone","roles":["trader"]}}}`)
	b.on("/api/user/oauth/callback", `{"code":1,"data":{"token":"o1","userInfo":{"username":"gh","avatar":"https://x/y.png"}}}`)
	s, _ := newTestStore(t, b)
	ctx := context.Background()

	sess, err := s.EmailLogin(ctx, EmailCredentials{Email: "a@b.com", Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "e1", sess.Token)
	assert.Equal(t, "mail", sess.Name)
	assert.Equal(t, []Role{DefaultRole()}, sess.Roles)

	sess, err = s.MobileLogin(ctx, MobileCredentials{Mobile: "13800000000", Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "m1", sess.Token)
	assert.Equal(t, "Phone", sess.Name)
	assert.Equal(t, []Role{{ID: "trader", PermissionList: []string{}}}, sess.Roles)

	sess, err = s.OAuthLogin(ctx, OAuthCallback{Provider: "github", Code: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "o1", sess.Token)
	assert.Equal(t, "https://x/y.png", sess.Avatar)
}

func TestFinalizeWeb3Login(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend())
	ctx := context.Background()

	_, err := s.FinalizeWeb3Login(ctx, "", UserInfo{"username": "w"})
	assert.True(t, transport.IsStateError(err))
	_, err = s.FinalizeWeb3Login(ctx, "w1", nil)
	assert.True(t, transport.IsStateError(err))
	assert.Equal(t, StateAnonymous, s.State())

	sess, err := s.FinalizeWeb3Login(ctx, "w1", UserInfo{"username": "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", sess.Name)
	assert.Equal(t, []Role{DefaultRole()}, sess.Roles)
}

func TestLogin_IdenticalExpiryAcrossKeys(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"username":"bob"}}}`)
	s, mem := newTestStore(t, b)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	mem2 := &recordingStore{Store: mem}
	s.storage = mem2

	sess, err := s.Login(context.Background(), PasswordCredentials{Username: "bob", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, base.Add(7*24*time.Hour), sess.ExpiresAt)

	require.Len(t, mem2.expiries, 3)
	for key, exp := range mem2.expiries {
		assert.Equal(t, sess.ExpiresAt, exp, key)
	}
}

type recordingStore struct {
	storage.Store
	expiries map[string]time.Time
}

func (r *recordingStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if r.expiries == nil {
		r.expiries = map[string]time.Time{}
	}
	r.expiries[key] = expiresAt
	// 固定时钟在过去，写入底层时放宽过期时间
	return r.Store.Set(ctx, key, value, time.Time{})
}

func TestLogout_AlwaysClears(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"username":"bob"}}}`)
	b.fail("/api/user/logout", &transport.TransportError{Op: "logout", Err: errors.New("connection refused")})
	s, mem := newTestStore(t, b)
	ctx := context.Background()

	_, err := s.Login(ctx, PasswordCredentials{Username: "bob", Password: "p"})
	require.NoError(t, err)

	s.Logout(ctx)

	sess := s.Snapshot()
	assert.Empty(t, sess.Token)
	assert.Empty(t, sess.Roles)
	assert.Empty(t, sess.Info)
	assert.Empty(t, sess.Name)
	assert.Empty(t, sess.Avatar)
	assert.Equal(t, StateAnonymous, sess.State)
	assert.Equal(t, 1, b.called("/api/user/logout"))

	for _, key := range []string{KeyAccessToken, KeyUserInfo, KeyUserRoles} {
		_, err := mem.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound, key)
	}
}

func TestLogout_AppErrorStillClears(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/logout", `{"code":0,"msg":"nope"}`)
	s, _ := newTestStore(t, b)
	_, err := s.FinalizeWeb3Login(context.Background(), "w1", UserInfo{"username": "w"})
	require.NoError(t, err)

	s.Logout(context.Background())
	assert.Empty(t, s.Token())
}

func TestRestore(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"nickname":"Bob","avatar":"/b.png"}}}`)
	s, mem := newTestStore(t, b)
	ctx := context.Background()

	orig, err := s.Login(ctx, PasswordCredentials{Username: "bob", Password: "p"})
	require.NoError(t, err)

	restored := NewStore(b, mem)
	require.NoError(t, restored.Restore(ctx))

	sess := restored.Snapshot()
	assert.Equal(t, "t1", sess.Token)
	assert.Equal(t, StateAuthenticated, sess.State)
	assert.Equal(t, "Bob", sess.Name)
	assert.Equal(t, "/b.png", sess.Avatar)
	assert.Equal(t, orig.Roles, sess.Roles)
	assert.Equal(t, orig.ExpiresAt.UnixMilli(), sess.ExpiresAt.UnixMilli())
}

func TestRestore_TokenShapes(t *testing.T) {
	ctx := context.Background()

	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, KeyAccessToken, []byte(`"plain"`), time.Time{}))
	s := NewStore(newFakeBackend(), mem)
	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, "plain", s.Token())
	assert.Equal(t, "User", s.Snapshot().Name)

	require.NoError(t, mem.Set(ctx, KeyAccessToken, []byte(`{"token":"obj"}`), time.Time{}))
	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, "obj", s.Token())

	empty := NewStore(newFakeBackend(), storage.NewMemory())
	require.NoError(t, empty.Restore(ctx))
	assert.Equal(t, StateAnonymous, empty.State())
	assert.Empty(t, empty.Roles())
}

func TestRestore_MissingRolesDerived(t *testing.T) {
	ctx := context.Background()

	mem := storage.NewMemory()
	require.NoError(t, mem.Set(ctx, KeyAccessToken, []byte(`"t1"`), time.Time{}))
	require.NoError(t, mem.Set(ctx, KeyUserInfo, []byte(`{"username":"bob","roles":["trader"]}`), time.Time{}))
	s := NewStore(newFakeBackend(), mem)
	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, []Role{{ID: "trader", PermissionList: []string{}}}, s.Roles())

	// 无用户信息时使用默认角色
	bare := storage.NewMemory()
	require.NoError(t, bare.Set(ctx, KeyAccessToken, []byte(`"t2"`), time.Time{}))
	s = NewStore(newFakeBackend(), bare)
	require.NoError(t, s.Restore(ctx))
	assert.Equal(t, []Role{DefaultRole()}, s.Roles())
}

func TestRefreshInfo(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"username":"bob","email":"b@x.io"}}}`)
	b.on("/api/user/info", `{"code":1,"data":{"id":1,"nickname":"Bobby","avatar":"/new.png"}}`)
	s, mem := newTestStore(t, b)
	ctx := context.Background()

	before, err := s.Login(ctx, PasswordCredentials{Username: "bob", Password: "p"})
	require.NoError(t, err)

	info, err := s.RefreshInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", info.Email())
	assert.Equal(t, "Bobby", info.Nickname())

	sess := s.Snapshot()
	assert.Equal(t, "Bobby", sess.Name)
	assert.Equal(t, "/new.png", sess.Avatar)
	assert.Equal(t, StateAuthenticated, sess.State)
	assert.Equal(t, before.Roles, sess.Roles)

	raw, err := mem.Get(ctx, KeyUserInfo)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "Bobby", stored["nickname"])
}

func TestRefreshInfo_FailureKeepsCache(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"username":"bob"}}}`)
	b.on("/api/user/info", `{"code":401,"msg":"token expired"}`)
	s, _ := newTestStore(t, b)
	ctx := context.Background()

	_, err := s.Login(ctx, PasswordCredentials{Username: "bob", Password: "p"})
	require.NoError(t, err)

	_, err = s.RefreshInfo(ctx)
	require.Error(t, err)
	assert.Equal(t, "token expired", err.Error())
	assert.Equal(t, "bob", s.Snapshot().Info.Username())
}

func TestRefreshInfo_NotAuthenticated(t *testing.T) {
	s, _ := newTestStore(t, newFakeBackend())
	_, err := s.RefreshInfo(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestEnsureInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("cached info re-derives roles", func(t *testing.T) {
		b := newFakeBackend()
		s, _ := newTestStore(t, b)
		_, err := s.FinalizeWeb3Login(ctx, "w1", UserInfo{"username": "w", "roles": []any{"trader"}})
		require.NoError(t, err)

		info, err := s.EnsureInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, "w", info.Username())
		assert.Equal(t, []Role{{ID: "trader", PermissionList: []string{}}}, s.Roles())
		assert.Equal(t, 0, b.called("/api/user/info"))
	})

	t.Run("fetches when no cached info", func(t *testing.T) {
		b := newFakeBackend()
		b.on("/api/user/info", `{"code":1,"data":{"username":"admin","role":{"id":"admin","permissions":["dashboard","exception","account"]}}}`)
		mem := storage.NewMemory()
		require.NoError(t, mem.Set(ctx, KeyAccessToken, []byte(`"t9"`), time.Time{}))
		s := NewStore(b, mem)
		require.NoError(t, s.Restore(ctx))

		info, err := s.EnsureInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, "admin", info.Username())
		assert.Equal(t, []Role{AdminRole()}, s.Roles())
		assert.Equal(t, "admin", s.Snapshot().Name)
	})
}

func TestUpdateInfo(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/update", `{"code":1,"msg":"ok"}`)
	s, _ := newTestStore(t, b)
	ctx := context.Background()

	_, err := s.UpdateInfo(ctx, map[string]any{"nickname": "X"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = s.FinalizeWeb3Login(ctx, "w1", UserInfo{"username": "w", "email": "w@x.io"})
	require.NoError(t, err)

	info, err := s.UpdateInfo(ctx, map[string]any{"nickname": "Neo"})
	require.NoError(t, err)
	assert.Equal(t, "Neo", info.Nickname())
	assert.Equal(t, "w@x.io", info.Email())
	assert.Equal(t, "Neo", s.Snapshot().Name)

	b.on("/api/user/update", `{"code":0,"msg":"nickname taken"}`)
	_, err = s.UpdateInfo(ctx, map[string]any{"nickname": "Trinity"})
	require.Error(t, err)
	assert.Equal(t, "Neo", s.Snapshot().Info.Nickname())
}

func TestConcurrentLogins_LastWriteWins(t *testing.T) {
	b := newFakeBackend()
	b.on("/api/user/login", `{"code":1,"data":{"token":"t1","userinfo":{"username":"bob"}}}`)
	s, _ := newTestStore(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Login(context.Background(), PasswordCredentials{Username: "bob", Password: "p"})
		}()
	}
	wg.Wait()

	sess := s.Snapshot()
	assert.Equal(t, "t1", sess.Token)
	assert.Equal(t, StateAuthenticated, sess.State)
	assert.NotEmpty(t, sess.Roles)
}
