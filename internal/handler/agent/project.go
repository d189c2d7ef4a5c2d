package agent

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	agentservice "mango/internal/service/agent"
)

// CreateProject 创建项目
// @Summary      创建项目
// @Description  创建一个视频生成项目，携带原始脚本与生成参数。这是整个流程的起点。
// @Tags         项目管理
// @Accept       json
// @Produce      json
// @Param        request  body      agentservice.CreateProjectRequest  true  "创建项目请求"
// @Success      201      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Failure      500      {object}  ErrorResponse  "服务器内部错误"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects [post]
func (h *Handler) CreateProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req agentservice.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	project, err := h.agentService.CreateProject(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    0,
		"message": "项目创建成功",
		"data":    project,
	})
}

// GetProject 获取项目详情
// @Summary      获取项目详情
// @Description  获取项目完整信息，包含脚本分析结果与各阶段状态。
// @Tags         项目管理
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id} [get]
func (h *Handler) GetProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	project, err := h.agentService.GetProject(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    project,
	})
}

// ListProjectsResponseData 项目列表响应数据
type ListProjectsResponseData struct {
	Projects interface{} `json:"projects"` // 项目列表
	Total    int64       `json:"total"`    // 总数
	Page     int64       `json:"page"`     // 当前页码
	PageSize int64       `json:"page_size"` // 每页数量
}

// ListProjects 分页查询项目列表
// @Summary      项目列表
// @Description  分页查询当前用户的项目，按创建时间倒序。
// @Tags         项目管理
// @Produce      json
// @Param        page       query     int  false  "页码，默认1"
// @Param        page_size  query     int  false  "每页数量，默认20"
// @Success      200        {object}  map[string]interface{}  "成功响应"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects [get]
func (h *Handler) ListProjects(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.DefaultQuery("page_size", "20"), 10, 64)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	projects, total, err := h.agentService.ListProjects(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data": ListProjectsResponseData{
			Projects: projects,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		},
	})
}

// DeleteProject 删除项目
// @Summary      删除项目
// @Description  删除项目并级联删除角色、分镜图与视频片段。
// @Tags         项目管理
// @Produce      json
// @Param        id   path      string  true  "项目ID"
// @Success      200  {object}  map[string]interface{}  "成功响应"
// @Failure      404  {object}  ErrorResponse  "项目不存在"
// @Security     BearerAuth
// @Router       /api/v1/agent/projects/{id} [delete]
func (h *Handler) DeleteProject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.agentService.DeleteProject(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "项目删除成功",
	})
}
