package transport

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// CodeSuccess 后端统一响应中表示成功的 code
const CodeSuccess = 1

var ErrInvalidEnvelope = errors.New("response is not a {code,msg,data} envelope")

// Envelope 后端统一响应 {code, msg, data}
type Envelope struct {
	Code int
	Msg  string
	Data json.RawMessage // data 缺失或为 null 时为空
}

// ParseEnvelope 解析响应体，code 允许是数字或数字字符串
func ParseEnvelope(body []byte) (*Envelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidEnvelope
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidEnvelope
	}
	code := root.Get("code")
	if !code.Exists() {
		return nil, ErrInvalidEnvelope
	}

	env := &Envelope{
		Code: cast.ToInt(code.Value()),
		Msg:  root.Get("msg").String(),
	}
	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		env.Data = json.RawMessage(data.Raw)
	}
	return env, nil
}

func (e *Envelope) OK() bool {
	return e != nil && e.Code == CodeSuccess
}

func (e *Envelope) HasData() bool {
	return e != nil && len(e.Data) > 0
}

// Get 按 gjson 路径读取 data 下的字段
func (e *Envelope) Get(path string) gjson.Result {
	if !e.HasData() {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Data, path)
}

// Decode 将 data 解码到 v；data 缺失时返回 StateError
func (e *Envelope) Decode(op string, v any) error {
	if !e.HasData() {
		return &StateError{Op: op, Field: "data"}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &StateError{Op: op, Field: "data", Err: err}
	}
	return nil
}

// DecodeItems 兼容 data 直接是数组或 {items: [...]} / {<key>: [...]} 两种形态
func (e *Envelope) DecodeItems(op string, key string, v any) error {
	if !e.HasData() {
		return &StateError{Op: op, Field: "data"}
	}
	raw := e.Data
	root := gjson.ParseBytes(raw)
	if root.IsObject() {
		list := root.Get(key)
		if !list.Exists() {
			list = root.Get("items")
		}
		if !list.Exists() || !list.IsArray() {
			return &StateError{Op: op, Field: "data." + key}
		}
		raw = json.RawMessage(list.Raw)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &StateError{Op: op, Field: "data." + key, Err: err}
	}
	return nil
}
