package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	agentservice "mango/internal/service/agent"
)

// AnalyzeScript 脚本分析（阶段1）
// @Summary      脚本分析
// @Description  调用大模型将脚本拆解为分镜列表。请求携带脚本时覆盖项目已存储的脚本，重新分析会使已生成的视频片段过期。
// @Tags         脚本分镜
// @Accept       json
// @Produce      json
// @Param        id       path      string  true  "项目ID"
// @Param        request  body      agentservice.AnalyzeScriptRequest  false  "脚本分析参数"
// @Success      200      {object}  map[string]interface{}  "成功响应"
// @Failure      404      {object}  ErrorResponse  "项目不存在"
// @Failure      500      {object}  ErrorResponse  "分析失败"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/analyze [post]
func (h *Handler) AnalyzeScript(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	// 请求体可为空，等价于直接分析项目已存储的脚本
	var req agentservice.AnalyzeScriptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    40001,
				Message: "Invalid request body",
				Detail:  err.Error(),
			})
			return
		}
	}

	analysis, err := h.agentService.AnalyzeScript(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "脚本分析完成",
		"data":    analysis,
	})
}

// DeleteShot 删除分镜
// @Summary      删除分镜
// @Description  删除单个分镜，后续分镜前移重编号，时间范围重算，下游分镜图与视频片段同步删除并重编号。
// @Tags         脚本分镜
// @Produce      json
// @Param        id           path      string  true  "项目ID"
// @Param        shot_number  path      int     true  "分镜编号"
// @Success      200          {object}  map[string]interface{}  "成功响应"
// @Failure      400          {object}  ErrorResponse  "分镜不存在或不可删除"
// @Failure      404          {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/shots/{shot_number} [delete]
func (h *Handler) DeleteShot(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	shotNumber, ok := shotNumberParam(c)
	if !ok {
		return
	}

	result, err := h.agentService.DeleteShot(c.Request.Context(), userID, c.Param("id"), shotNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "分镜删除成功",
		"data":    result,
	})
}

// UpdateShot 更新分镜
// @Summary      更新分镜
// @Description  部分更新单个分镜，未携带的字段保持不变。时长变化会触发全量时间范围重算。
// @Tags         脚本分镜
// @Accept       json
// @Produce      json
// @Param        id           path      string  true  "项目ID"
// @Param        shot_number  path      int     true  "分镜编号"
// @Param        request      body      agentservice.ShotPatch  true  "分镜补丁"
// @Success      200          {object}  map[string]interface{}  "成功响应"
// @Failure      400          {object}  ErrorResponse  "补丁为空或字段非法"
// @Failure      404          {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/shots/{shot_number} [patch]
func (h *Handler) UpdateShot(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	shotNumber, ok := shotNumberParam(c)
	if !ok {
		return
	}

	var patch agentservice.ShotPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	shot, err := h.agentService.PatchShot(c.Request.Context(), userID, c.Param("id"), shotNumber, &patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "分镜更新成功",
		"data":    shot,
	})
}
