package router

// Meta 菜单展示信息；Permission 对应角色 permissionList 中的权限标识
type Meta struct {
	Title      string `json:"title"`
	Icon       string `json:"icon,omitempty"`
	Permission string `json:"permission,omitempty"`
	KeepAlive  bool   `json:"keepAlive,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
}

type Route struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	Component string  `json:"component,omitempty"`
	Redirect  string  `json:"redirect,omitempty"`
	Meta      Meta    `json:"meta"`
	Children  []Route `json:"children,omitempty"`
}

func (r Route) clone() Route {
	if len(r.Children) == 0 {
		r.Children = nil
		return r
	}
	children := make([]Route, len(r.Children))
	for i, c := range r.Children {
		children[i] = c.clone()
	}
	r.Children = children
	return r
}

func cloneRoutes(routes []Route) []Route {
	out := make([]Route, len(routes))
	for i, r := range routes {
		out[i] = r.clone()
	}
	return out
}

// asyncRoutes 登录后可见的页面
var asyncRoutes = []Route{
	{
		Name:      "index",
		Path:      "/",
		Component: "BasicLayout",
		Redirect:  "/dashboard",
		Meta:      Meta{Title: "menu.home"},
		Children: []Route{
			{
				Name:      "Dashboard",
				Path:      "/dashboard",
				Component: "Dashboard",
				Meta:      Meta{Title: "menu.dashboard", Icon: "dashboard", Permission: "dashboard", KeepAlive: true},
			},
			{
				Name:      "Indicator",
				Path:      "/indicator-analysis",
				Component: "IndicatorAnalysis",
				Meta:      Meta{Title: "menu.dashboard.indicator", Icon: "line-chart", Permission: "dashboard", KeepAlive: true},
			},
			{
				Name:      "IndicatorCommunity",
				Path:      "/indicator-community",
				Component: "IndicatorCommunity",
				Meta:      Meta{Title: "menu.dashboard.community", Icon: "shop", Permission: "dashboard"},
			},
			{
				Name:      "Analysis",
				Path:      "/ai-analysis",
				Component: "AIAnalysis",
				Meta:      Meta{Title: "menu.dashboard.analysis", Icon: "robot", Permission: "dashboard", KeepAlive: true},
			},
			{
				Name:      "TradingAssistant",
				Path:      "/trading-assistant",
				Component: "TradingAssistant",
				Meta:      Meta{Title: "menu.dashboard.tradingAssistant", Icon: "thunderbolt", Permission: "dashboard"},
			},
			{
				Name:      "AITradingAssistant",
				Path:      "/ai-trading-assistant",
				Component: "AITradingAssistant",
				Meta:      Meta{Title: "menu.dashboard.aiTradingAssistant", Icon: "experiment", Permission: "dashboard"},
			},
			{
				Name:      "SignalRobot",
				Path:      "/signal-robot",
				Component: "SignalRobot",
				Meta:      Meta{Title: "menu.dashboard.signalRobot", Icon: "notification", Permission: "dashboard"},
			},
			{
				Name:      "account",
				Path:      "/account",
				Component: "RouteView",
				Redirect:  "/account/center",
				Meta:      Meta{Title: "menu.account", Icon: "user", Permission: "account"},
				Children: []Route{
					{
						Name:      "center",
						Path:      "/account/center",
						Component: "AccountCenter",
						Meta:      Meta{Title: "menu.account.center", Permission: "account"},
					},
					{
						Name:      "settings",
						Path:      "/account/settings",
						Component: "AccountSettings",
						Meta:      Meta{Title: "menu.account.settings", Permission: "account"},
					},
				},
			},
			{
				Name:      "exception",
				Path:      "/exception",
				Component: "RouteView",
				Redirect:  "/exception/403",
				Meta:      Meta{Title: "menu.exception", Icon: "warning", Permission: "exception", Hidden: true},
				Children: []Route{
					{Name: "Exception403", Path: "/exception/403", Component: "Exception403", Meta: Meta{Title: "menu.exception.not-permission", Permission: "exception"}},
					{Name: "Exception404", Path: "/exception/404", Component: "Exception404", Meta: Meta{Title: "menu.exception.not-find", Permission: "exception"}},
					{Name: "Exception500", Path: "/exception/500", Component: "Exception500", Meta: Meta{Title: "menu.exception.server-error", Permission: "exception"}},
				},
			},
		},
	},
	{
		Name:     "NotFound",
		Path:     "*",
		Redirect: "/404",
		Meta:     Meta{Hidden: true},
	},
}

// constantRoutes 无需登录即可访问
var constantRoutes = []Route{
	{
		Name:      "user",
		Path:      "/user",
		Component: "UserLayout",
		Redirect:  "/user/login",
		Meta:      Meta{Hidden: true},
		Children: []Route{
			{Name: "login", Path: "/user/login", Component: "Login", Meta: Meta{Title: "user.login.login"}},
		},
	},
	{
		Name:      "404",
		Path:      "/404",
		Component: "Exception404",
		Meta:      Meta{Hidden: true},
	},
}
