package agent

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mango/internal/pkg/ctxutil"
	httputil "mango/internal/pkg/http"
	"mango/internal/pkg/scripttools"
	agentservice "mango/internal/service/agent"
)

// ErrorResponse 错误响应（所有API共用）
type ErrorResponse = httputil.ErrorResponse

// currentUserID 从认证中间件注入的 context 中取出 user_id
// 路由均挂在 Auth 中间件之后，取不到说明接入配置有误
func currentUserID(c *gin.Context) (string, bool) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    40101,
			Message: "未授权",
		})
		return "", false
	}
	return userID, true
}

// shotNumberParam 解析路径中的分镜编号
func shotNumberParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("shot_number"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid shot number",
		})
		return 0, false
	}
	return n, true
}

// respondError 将 Service 层错误映射为统一的 HTTP 错误响应
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := 50001

	switch {
	case errors.Is(err, agentservice.ErrNotFound):
		status = http.StatusNotFound
		code = 40401
	case errors.Is(err, agentservice.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
		code = 40201
	case errors.Is(err, agentservice.ErrDuplicateCharacterName),
		errors.Is(err, agentservice.ErrRenameCollision):
		status = http.StatusConflict
		code = 40901
	case errors.Is(err, agentservice.ErrEmptyPatch),
		errors.Is(err, agentservice.ErrScriptNotAnalyzed),
		errors.Is(err, agentservice.ErrNoShots),
		errors.Is(err, agentservice.ErrStoryboardsNotReady),
		errors.Is(err, agentservice.ErrClipsNotReady),
		errors.Is(err, scripttools.ErrLastShot),
		errors.Is(err, scripttools.ErrShotNotFound):
		status = http.StatusBadRequest
		code = 40002
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}
