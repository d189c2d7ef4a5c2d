package agent

import (
	"errors"
	"fmt"

	"mango/internal/pkg/seedance"
)

// 服务层错误，由 handler 层映射为 HTTP 错误码
var (
	// ErrNotFound 项目或资源不存在（含归属不符，不泄露存在性）
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateCharacterName 同一批配置中出现重名角色，整批拒绝
	ErrDuplicateCharacterName = errors.New("duplicate character name in batch")

	// ErrRenameCollision 重命名后的名称与既有的另一个角色冲突
	ErrRenameCollision = errors.New("renamed character collides with an existing character")

	// ErrEmptyPatch 分镜部分更新未携带任何字段
	ErrEmptyPatch = errors.New("empty shot patch")

	// ErrScriptNotAnalyzed 前置阶段缺失：脚本尚未分析
	ErrScriptNotAnalyzed = errors.New("script has not been analyzed")

	// ErrNoShots 分镜列表为空
	ErrNoShots = errors.New("project has no shots")

	// ErrStoryboardsNotReady 存在未成功的分镜图，无法进入视频生成
	ErrStoryboardsNotReady = errors.New("storyboards are not ready")

	// ErrClipsNotReady 存在未成功的视频片段，无法进入合成
	ErrClipsNotReady = errors.New("video clips are not ready")

	// ErrInsufficientCredits 积分不足，任何外部调用发生之前拒绝
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// chainInterruptedMessage 链式生成中断时写入后续片段的错误信息
const chainInterruptedMessage = "前序片段生成失败，链条中断"

// missingLastFrameMessage 前序片段成功但未返回末尾帧时，写入紧随其后片段的错误信息
const missingLastFrameMessage = "前序片段未返回末尾帧，无法继续链式生成"

// dispatchLostMessage 滞留的 generating 记录被惰性修复时写入的错误信息
const dispatchLostMessage = "生成任务派发丢失，已超时"

// SensitiveContentError 外部后端内容审核拒绝
// 携带分镜编号与截断后的提示词，便于区分策略性失败与基础设施失败
type SensitiveContentError struct {
	ShotNumber int
	Prompt     string
}

// Error 实现 error 接口
func (e *SensitiveContentError) Error() string {
	return fmt.Sprintf("shot %d rejected by content moderation: %s", e.ShotNumber, e.Prompt)
}

// Unwrap 保留底层哨兵错误，支持 errors.Is 判断
func (e *SensitiveContentError) Unwrap() error {
	return seedance.ErrSensitiveContent
}

// newSensitiveContentError 创建内容审核错误，提示词截断到 80 字符
func newSensitiveContentError(shotNumber int, prompt string) *SensitiveContentError {
	if len(prompt) > 80 {
		prompt = prompt[:80] + "..."
	}
	return &SensitiveContentError{ShotNumber: shotNumber, Prompt: prompt}
}
