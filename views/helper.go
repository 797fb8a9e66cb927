// views/helper.go
package views

import (
	"context"
	"strings"

	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/response"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	HeaderUserID       = "X-User-ID"
	HeaderUserRole     = "X-User-Role"
	HeaderDepartmentID = "X-Department-ID"

	actorKey = "actor"
)

// RegisterValidators 注册自定义的 binding 校验规则
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("branchname", func(fl validator.FieldLevel) bool {
			return services.ValidateBranchName(fl.Field().String()) == nil
		})
	}
}

// ActorMiddleware 从网关注入的请求头读取当前用户
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			response.Unauthorized(c, "missing user identity")
			return
		}
		role := models.RoleMember
		if strings.EqualFold(c.GetHeader(HeaderUserRole), string(models.RoleAdmin)) {
			role = models.RoleAdmin
		}
		c.Set(actorKey, services.Actor{
			ID:           userID,
			Role:         role,
			DepartmentID: strings.TrimSpace(c.GetHeader(HeaderDepartmentID)),
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) services.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(services.Actor); ok {
			return actor
		}
	}
	return services.Actor{}
}

// DepartmentResolver 查询资源所属部门
type DepartmentResolver interface {
	OwningDepartment(ctx context.Context, kind, id string) (string, error)
}

// DepartmentGuard 资源所属数据集必须属于当前用户的部门
//
// param 为路由参数名，以 "?" 开头时从查询参数读取。
func DepartmentGuard(resolver DepartmentResolver, logger *zap.Logger, kind, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var id string
		if strings.HasPrefix(param, "?") {
			id = c.Query(strings.TrimPrefix(param, "?"))
		} else {
			id = c.Param(param)
		}
		if id == "" {
			c.Next()
			return
		}

		department, err := resolver.OwningDepartment(c.Request.Context(), kind, id)
		if err != nil {
			logger.Debug("department lookup failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
			response.Forbidden(c, "resource not found or not accessible")
			return
		}
		if department != actorFrom(c).DepartmentID {
			response.Forbidden(c, "you do not have access to this dataset")
			return
		}
		c.Next()
	}
}
