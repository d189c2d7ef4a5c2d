package agent

import (
	agentservice "mango/internal/service/agent"
)

// Handler 视频项目处理器
// 所有项目相关的Handler方法都通过这个结构体访问Service
type Handler struct {
	agentService agentservice.Service
}

// NewHandler 创建视频项目处理器
func NewHandler(agentService agentservice.Service) *Handler {
	return &Handler{
		agentService: agentService,
	}
}
