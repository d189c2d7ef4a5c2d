package agent

// ProjectStatus 项目整体状态
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"      // 草稿
	ProjectStatusProcessing ProjectStatus = "processing" // 处理中
	ProjectStatusCompleted  ProjectStatus = "completed"  // 已完成
	ProjectStatusFailed     ProjectStatus = "failed"     // 失败
)

// String 返回状态的字符串表示
func (s ProjectStatus) String() string {
	return string(s)
}

// StageStatus 单个阶段状态（步骤1-5）
// 指针为 nil 表示该阶段尚未触达（对应存储中的 null）
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"    // 待处理
	StageStatusProcessing StageStatus = "processing" // 处理中
	StageStatusCompleted  StageStatus = "completed"  // 已完成
	StageStatusFailed     StageStatus = "failed"     // 失败
	StageStatusPartial    StageStatus = "partial"    // 部分成功（批量生成的聚合结果）
)

// String 返回状态的字符串表示
func (s StageStatus) String() string {
	return string(s)
}

// StoryboardStatus 分镜图状态
type StoryboardStatus string

const (
	StoryboardStatusGenerating StoryboardStatus = "generating" // 生成中
	StoryboardStatusSuccess    StoryboardStatus = "success"    // 成功
	StoryboardStatusFailed     StoryboardStatus = "failed"     // 失败
	StoryboardStatusOutdated   StoryboardStatus = "outdated"   // 已过期（角色重命名后提示词不再匹配）
)

// String 返回状态的字符串表示
func (s StoryboardStatus) String() string {
	return string(s)
}

// ClipStatus 视频片段状态
// outdated 表示上游脚本文本在片段成功之后发生了变化，
// 片段本身仍然可用，但其生成提示词已不再匹配脚本
type ClipStatus string

const (
	ClipStatusIdle       ClipStatus = "idle"       // 待启动（可重新触发）
	ClipStatusGenerating ClipStatus = "generating" // 生成中
	ClipStatusSuccess    ClipStatus = "success"    // 成功
	ClipStatusFailed     ClipStatus = "failed"     // 失败
	ClipStatusOutdated   ClipStatus = "outdated"   // 已过期（上游文本变更）
)

// String 返回状态的字符串表示
func (s ClipStatus) String() string {
	return string(s)
}

// CharacterSource 角色来源
type CharacterSource string

const (
	CharacterSourceTemplate   CharacterSource = "template"    // 模板角色
	CharacterSourceUpload     CharacterSource = "upload"      // 用户上传参考图
	CharacterSourceAIGenerate CharacterSource = "ai_generate" // AI 生成参考图
)

// String 返回来源的字符串表示
func (s CharacterSource) String() string {
	return string(s)
}
