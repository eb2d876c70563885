package router

import (
	"context"

	"github.com/samber/lo"

	"github.com/utrading/qd-client/internal/session"
	"github.com/utrading/qd-client/pkg/logger"
)

// Generate 返回完整的路由树。
// 不按角色过滤，权限由后端在每个接口上校验；roles 参数保留给后续按角色裁剪。
func Generate(ctx context.Context, roles []session.Role) ([]Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	routes := cloneRoutes(asyncRoutes)
	logger.Debug().
		Strs("roles", lo.Map(roles, func(r session.Role, _ int) string { return r.ID })).
		Int("routes", len(Flatten(routes))).
		Msg("routes generated")

	return routes, nil
}

// Constant 登录前可访问的路由
func Constant() []Route {
	return cloneRoutes(constantRoutes)
}

// Flatten 深度优先展开路由树，返回的节点不含 Children
func Flatten(routes []Route) []Route {
	var out []Route
	var walk func([]Route)
	walk = func(rs []Route) {
		for _, r := range rs {
			children := r.Children
			r.Children = nil
			out = append(out, r)
			walk(children)
		}
	}
	walk(routes)
	return out
}

// Find 按路径查找路由
func Find(routes []Route, path string) (Route, bool) {
	return lo.Find(Flatten(routes), func(r Route) bool {
		return r.Path == path
	})
}
