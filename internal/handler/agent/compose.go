package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Compose 最终合成（阶段5）
// @Summary      合成最终视频
// @Description  将全部片段按分镜顺序拼接并混入背景音乐，合成在后台执行。要求所有片段均已生成成功。
// @Tags         最终合成
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      202  {object}  map[string]interface{}  "已受理"
// @Failure      400  {object}  ErrorResponse  "片段未就绪"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/compose [post]
func (h *Handler) Compose(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.Compose(c.Request.Context(), userID, c.Param("id"))
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

// ComposeStatus 合成状态
// @Summary      合成状态
// @Description  查询最终合成的阶段状态与成品视频地址。
// @Tags         最终合成
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id}/compose/status [get]
func (h *Handler) ComposeStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.agentService.ComposeStatus(c.Request.Context(), userID, c.Param("id"))
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
