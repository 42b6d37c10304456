package middleware

import (
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var defaultPolicies = [][]string{
	{RoleClient, "/api/register", "POST"},
	{RoleClient, "/api/users/*", "GET"},
	{RoleClient, "/api/investments*", "(GET)|(POST)"},
	{RoleClient, "/api/withdrawals*", "(GET)|(POST)"},
	{RoleClient, "/api/fees/*", "POST"},
	{RoleAdmin, "/api/admin/*", ".*"},
}

// NewEnforcer loads the access model and policy files from config, falling
// back to the built-in admin/client policy.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	if cfg != nil && cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleAdmin, RoleClient); err != nil {
		return nil, err
	}
	return e, nil
}

// Authorize enforces the caller role against the request path and method.
func Authorize(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c.Request.Context())
		ok, err := e.Enforce(role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("access check failed", zap.Error(err))
			_ = c.Error(errutil.Internal("access check failed", err))
			c.Abort()
			return
		}
		if !ok {
			_ = c.Error(errutil.Forbidden("access denied", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
