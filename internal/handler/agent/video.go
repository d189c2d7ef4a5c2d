package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenerateVideos 批量生成视频片段（阶段4）
// @Summary      生成视频片段
// @Description  幂等触发视频片段批量生成。默认链式模式按顺序生成并传递尾帧，旁白模式下各片段独立并发生成。
// @Tags         视频片段
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      202  {object}  map[string]interface{}  "已受理"
// @Failure      400  {object}  ErrorResponse  "分镜图未就绪"
// @Failure      402  {object}  ErrorResponse  "积分不足"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/videos/generate [post]
func (h *Handler) GenerateVideos(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.GenerateVideos(c.Request.Context(), userID, c.Param("id"))
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

// RetryVideo 重试单个视频片段
// @Summary      重试视频片段
// @Description  对失败或过期的片段重新发起独立生成，首帧优先取前一片段的尾帧。
// @Tags         视频片段
// @Produce      json
// @Param        id           path      string  true  "项目ID"
// @Param        shot_number  path      int     true  "分镜编号"
// @Success      202          {object}  map[string]interface{}  "已受理"
// @Failure      400          {object}  ErrorResponse  "片段不可重试"
// @Failure      402          {object}  ErrorResponse  "积分不足"
// @Failure      404          {object}  ErrorResponse  "项目或分镜不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/videos/{shot_number}/retry [post]
func (h *Handler) RetryVideo(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	shotNumber, ok := shotNumberParam(c)
	if !ok {
		return
	}

	if err := h.agentService.RetryVideo(c.Request.Context(), userID, c.Param("id"), shotNumber); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "视频片段重新生成中",
	})
}

// VideoStatus 视频片段生成状态
// @Summary      视频片段状态
// @Description  查询视频片段生成进度与各状态计数，对仍在外部执行的任务做一次惰性轮询。
// @Tags         视频片段
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/videos/status [get]
func (h *Handler) VideoStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.VideoStatus(c.Request.Context(), userID, c.Param("id"))
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
