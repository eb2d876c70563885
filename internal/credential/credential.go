package credential

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/utrading/qd-client/internal/strategy"
	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	pathList   = "/api/credentials/list"
	pathGet    = "/api/credentials/get"
	pathCreate = "/api/credentials/create"
	pathDelete = "/api/credentials/delete"
)

var validate = validator.New()

// Credential 列表项，只包含 api key 提示，不含密钥
type Credential struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Name       string `json:"name"`
	ExchangeID string `json:"exchange_id"`
	APIKeyHint string `json:"api_key_hint"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Secret 交易所密钥明文
type Secret struct {
	ExchangeID string `json:"exchange_id"`
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase"`
}

// Detail 单条凭证，含完整密钥，用于表单回填
type Detail struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExchangeID string `json:"exchange_id"`
	APIKeyHint string `json:"api_key_hint"`
	Config     Secret `json:"config"`
}

// ExchangeConfig 转换为策略的交易所配置，同时带上 credential_id
func (d *Detail) ExchangeConfig() strategy.ExchangeConfig {
	exchangeID := d.ExchangeID
	if exchangeID == "" {
		exchangeID = d.Config.ExchangeID
	}
	return strategy.ExchangeConfig{
		ExchangeID:   exchangeID,
		APIKey:       d.Config.APIKey,
		SecretKey:    d.Config.SecretKey,
		Passphrase:   d.Config.Passphrase,
		CredentialID: d.ID,
	}
}

// CreateInput 新建凭证；凭证不可修改，只能删除后重建
type CreateInput struct {
	UserID     int64  `json:"user_id,omitempty"`
	Name       string `json:"name"`
	ExchangeID string `json:"exchange_id" validate:"required"`
	APIKey     string `json:"api_key" validate:"required"`
	SecretKey  string `json:"secret_key" validate:"required"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (in CreateInput) normalize() CreateInput {
	in.Name = strings.TrimSpace(in.Name)
	in.ExchangeID = strings.TrimSpace(in.ExchangeID)
	in.APIKey = strings.TrimSpace(in.APIKey)
	in.SecretKey = strings.TrimSpace(in.SecretKey)
	in.Passphrase = strings.TrimSpace(in.Passphrase)
	return in
}

// Hint api key 脱敏展示，与后端规则一致
func Hint(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return apiKey[:min(2, len(apiKey))] + "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

type Store struct {
	requester transport.Requester
}

func NewStore(requester transport.Requester) *Store {
	return &Store{requester: requester}
}

// List 当前用户的凭证，按 id 倒序
func (s *Store) List(ctx context.Context) ([]Credential, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathList,
		Method: "get",
	}, "Failed to list credentials")
	if err != nil {
		return nil, err
	}

	var items []Credential
	if err = env.DecodeItems("list credentials", "items", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Detail, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathGet,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load credential")
	if err != nil {
		return nil, err
	}

	var d Detail
	if err = env.Decode("get credential", &d); err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, &transport.StateError{Op: "get credential", Field: "data.id"}
	}
	return &d, nil
}

// Create 校验后提交，返回新凭证 id
func (s *Store) Create(ctx context.Context, in CreateInput) (int64, error) {
	in = in.normalize()
	if err := validate.Struct(in); err != nil {
		return 0, err
	}

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathCreate,
		Method: "post",
		Data:   in,
	}, "Failed to create credential")
	if err != nil {
		return 0, err
	}

	id := env.Get("id").Int()
	if id <= 0 {
		return 0, &transport.StateError{Op: "create credential", Field: "data.id"}
	}

	logger.Info().Int64("id", id).Str("exchange", in.ExchangeID).Str("key", Hint(in.APIKey)).Msg("credential created")
	return id, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathDelete,
		Method: "delete",
		Params: map[string]any{"id": id},
	}, "Failed to delete credential"); err != nil {
		return err
	}

	logger.Info().Int64("id", id).Msg("credential deleted")
	return nil
}
