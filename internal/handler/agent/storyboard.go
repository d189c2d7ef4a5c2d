package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenerateStoryboards 批量生成分镜图（阶段3）
// @Summary      生成分镜图
// @Description  幂等触发分镜图批量生成。接口在占位写入完成后立即返回，生成在后台并发执行；重复调用不会产生重复任务。
// @Tags         分镜图
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      202  {object}  map[string]interface{}  "已受理"
// @Failure      400  {object}  ErrorResponse  "前置阶段未完成"
// @Failure      402  {object}  ErrorResponse  "积分不足"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/storyboards/generate [post]
func (h *Handler) GenerateStoryboards(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.GenerateStoryboards(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": result.Message,
		"data":    result,
	})
}

// RegenerateStoryboard 重新生成单张分镜图
// @Summary      重生成分镜图
// @Description  重新生成指定分镜的分镜图，旧版本保留为历史记录。
// @Tags         分镜图
// @Produce      json
// @Param        id           path      string  true  "项目ID"
// @Param        shot_number  path      int     true  "分镜编号"
// @Success      202          {object}  map[string]interface{}  "已受理"
// @Failure      402          {object}  ErrorResponse  "积分不足"
// @Failure      404          {object}  ErrorResponse  "项目或分镜不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/storyboards/{shot_number}/regenerate [post]
func (h *Handler) RegenerateStoryboard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	shotNumber, ok := shotNumberParam(c)
	if !ok {
		return
	}

	if err := h.agentService.RegenerateStoryboard(c.Request.Context(), userID, c.Param("id"), shotNumber); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "分镜图重新生成中",
	})
}

// StoryboardStatus 分镜图生成状态
// @Summary      分镜图状态
// @Description  查询分镜图生成进度与各状态计数，超时滞留的记录在读取时被修复为失败。
// @Tags         分镜图
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/storyboards/status [get]
func (h *Handler) StoryboardStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.StoryboardStatus(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    result,
	})
}
