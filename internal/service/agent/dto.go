package agent

import (
	"mango/internal/model/agent"
	"mango/internal/pkg/scripttools"
)

// CreateProjectRequest 创建项目参数
type CreateProjectRequest struct {
	Title           string `json:"title" binding:"required"`
	Script          string `json:"script" binding:"required"`
	AspectRatio     string `json:"aspect_ratio"`     // 16:9 / 9:16，默认 9:16
	EnableNarration bool   `json:"enable_narration"` // 旁白模式：视频片段独立生成
	MuteBGM         bool   `json:"mute_bgm"`         // 合成时不混入背景音乐
	MusicPrompt     string `json:"music_prompt"`     // 背景音乐生成提示词（可选）
}

// AnalyzeScriptRequest 脚本分析参数
type AnalyzeScriptRequest struct {
	Script         string  `json:"script"`          // 非空时覆盖项目已存储的脚本
	TargetDuration float64 `json:"target_duration"` // 期望总时长（秒，可选）
}

// DeleteShotResult 分镜删除的级联结果
type DeleteShotResult struct {
	DeletedShotNumber int      `json:"deleted_shot_number"` // 被删除的分镜编号
	NewShotCount      int      `json:"new_shot_count"`      // 删除后的分镜数量
	NewCharacters     []string `json:"new_characters"`      // 重新提取的角色列表
	CharactersRemoved []string `json:"characters_removed"`  // 不再出现的角色
}

// ShotPatch 分镜部分更新（nil 字段不修改）
type ShotPatch struct {
	Description     *string  `json:"description"`
	CameraAngle     *string  `json:"camera_angle"`
	CharacterAction *string  `json:"character_action"`
	Mood            *string  `json:"mood"`
	VideoPrompt     *string  `json:"video_prompt"`
	DurationSeconds *float64 `json:"duration_seconds"`
	Characters      []string `json:"characters"` // 非 nil 时整体替换
	Seed            *int64   `json:"seed"`
}

// Empty 判断补丁是否未携带任何字段
func (p *ShotPatch) Empty() bool {
	return p.Description == nil && p.CameraAngle == nil && p.CharacterAction == nil &&
		p.Mood == nil && p.VideoPrompt == nil && p.DurationSeconds == nil &&
		p.Characters == nil && p.Seed == nil
}

// CharacterInput 单个角色配置项
// ID 为空时走按名称匹配的兼容路径（旧客户端）
type CharacterInput struct {
	ID               string                `json:"id"`
	CharacterName    string                `json:"character_name" binding:"required"`
	Source           agent.CharacterSource `json:"source"`
	TemplateID       string                `json:"template_id"`
	GenerationPrompt string                `json:"generation_prompt"`
	NegativePrompt   string                `json:"negative_prompt"`
	ReferenceImages  []string              `json:"reference_images"` // 按提交顺序整体替换
}

// ConfigureCharactersResult 角色配置结果
type ConfigureCharactersResult struct {
	Characters        []*agent.Character        `json:"characters"`         // 配置后的完整角色列表
	Renames           []scripttools.RenameEvent `json:"renames"`            // 检测到并已传播的重命名事件
	AffectedShots     []int                     `json:"affected_shots"`     // 重命名波及的分镜编号
	OrphansRemoved    int64                     `json:"orphans_removed"`    // 清理的孤儿角色数
	DuplicatesRemoved int64                     `json:"duplicates_removed"` // 收敛的重复角色数
}

// TriggerResult 批量生成触发结果
// 触发调用在占位写入完成后立即返回，实际生成在后台继续
type TriggerResult struct {
	Started          bool   `json:"started"`           // 是否有新任务被派发
	AlreadyStarted   bool   `json:"already_started"`   // 已有任务在进行中
	AlreadyCompleted bool   `json:"already_completed"` // 全部已成功，无需生成
	Triggered        []int  `json:"triggered"`         // 本次派发的分镜编号
	Total            int    `json:"total"`             // 分镜总数
	Message          string `json:"message"`
}

// StoryboardCounts 分镜图状态聚合计数
type StoryboardCounts struct {
	Total      int `json:"total"`
	Generating int `json:"generating"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Outdated   int `json:"outdated"`
}

// StoryboardStatusResult 阶段3状态读取结果
type StoryboardStatusResult struct {
	Items       []*agent.Storyboard `json:"items"`
	Counts      StoryboardCounts    `json:"counts"`
	StageStatus *agent.StageStatus  `json:"stage_status"`
}

// ClipCounts 视频片段状态聚合计数
type ClipCounts struct {
	Total      int `json:"total"`
	Idle       int `json:"idle"`
	Generating int `json:"generating"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Outdated   int `json:"outdated"`
}

// VideoStatusResult 阶段4状态读取结果
type VideoStatusResult struct {
	Items       []*agent.VideoClip `json:"items"`
	Counts      ClipCounts         `json:"counts"`
	StageStatus *agent.StageStatus `json:"stage_status"`
}

// ComposeStatusResult 阶段5状态读取结果
type ComposeStatusResult struct {
	Status        *agent.StageStatus `json:"status"`
	FinalVideoURL string             `json:"final_video_url,omitempty"`
}
