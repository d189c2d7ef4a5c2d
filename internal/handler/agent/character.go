package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	agentservice "mango/internal/service/agent"
)

// ConfigureCharactersRequest 批量配置角色请求
type ConfigureCharactersRequest struct {
	Characters []*agentservice.CharacterInput `json:"characters" binding:"required,min=1"` // 角色配置列表
}

// ConfigureCharacters 批量配置角色（阶段2）
// @Summary      配置角色
// @Description  批量创建或更新项目角色。按 ID 重命名会改写分镜文本并标记下游资源过期；本次未提交的角色作为孤儿删除。
// @Tags         角色管理
// @Accept       json
// @Produce      json
// @Param        id       path      string  true  "项目ID"
// @Param        request  body      ConfigureCharactersRequest  true  "角色配置列表"
// @Success      200      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Failure      404      {object}  ErrorResponse  "项目不存在"
// @Failure      409      {object}  ErrorResponse  "角色名称冲突"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/characters [put]
func (h *Handler) ConfigureCharacters(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req ConfigureCharactersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	result, err := h.agentService.ConfigureCharacters(c.Request.Context(), userID, c.Param("id"), req.Characters)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "角色配置成功",
		"data":    result,
	})
}

// GetCharacters 获取角色列表
// @Summary      角色列表
// @Description  获取项目的全部角色配置。
// @Tags         角色管理
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/characters [get]
func (h *Handler) GetCharacters(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	characters, err := h.agentService.GetCharacters(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    characters,
	})
}
