package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Shot 分镜（嵌入在 ScriptAnalysis 中）
// shot_number 在项目内从 1 开始连续编号，不允许出现空洞；
// time_range 由各分镜时长的前缀和推导（半开区间，格式 "{start}-{end}s"）
type Shot struct {
	ShotNumber      int      `bson:"shot_number" json:"shot_number"`           // 分镜编号（1-based，连续）
	TimeRange       string   `bson:"time_range" json:"time_range"`             // 时间范围，如 "0.0-5.0s"
	DurationSeconds float64  `bson:"duration_seconds" json:"duration_seconds"` // 时长（秒）
	Description     string   `bson:"description" json:"description"`           // 场景描述
	CameraAngle     string   `bson:"camera_angle" json:"camera_angle"`         // 镜头角度
	CharacterAction string   `bson:"character_action" json:"character_action"` // 角色动作描述
	Mood            string   `bson:"mood" json:"mood"`                         // 情绪氛围
	VideoPrompt     string   `bson:"video_prompt" json:"video_prompt"`         // 视频生成提示词
	Characters      []string `bson:"characters" json:"characters"`             // 出现的角色名列表
	Seed            *int64   `bson:"seed,omitempty" json:"seed,omitempty"`     // 可选：视频生成随机种子
}

// ScriptAnalysis 脚本分析结果（结构化、带校验的文档）
// 不变式：ShotCount == len(Shots)；Characters 等于所有分镜角色的大小写不敏感去重并集
type ScriptAnalysis struct {
	Duration   float64  `bson:"duration" json:"duration"`       // 总时长（秒），等于各分镜时长之和
	ShotCount  int      `bson:"shot_count" json:"shot_count"`   // 分镜数量
	StoryStyle string   `bson:"story_style" json:"story_style"` // 故事风格
	Shots      []Shot   `bson:"shots" json:"shots"`             // 有序分镜列表
	Characters []string `bson:"characters" json:"characters"`   // 去重后的角色名列表
}

// Project 视频项目根聚合
// 独占拥有 Characters / Storyboards / VideoClips，删除项目时级联删除
type Project struct {
	ID     string        `bson:"id" json:"id"`           // 项目ID（UUID）
	UserID string        `bson:"user_id" json:"user_id"` // 所属用户ID
	Title  string        `bson:"title" json:"title"`     // 项目标题
	Status ProjectStatus `bson:"status" json:"status"`   // 整体状态

	// 各阶段状态（1=脚本分析 2=角色配置 3=分镜图 4=视频片段 5=合成）
	// nil 表示尚未触达该阶段
	Step1Status *StageStatus `bson:"step_1_status,omitempty" json:"step_1_status,omitempty"`
	Step2Status *StageStatus `bson:"step_2_status,omitempty" json:"step_2_status,omitempty"`
	Step3Status *StageStatus `bson:"step_3_status,omitempty" json:"step_3_status,omitempty"`
	Step4Status *StageStatus `bson:"step_4_status,omitempty" json:"step_4_status,omitempty"`
	Step5Status *StageStatus `bson:"step_5_status,omitempty" json:"step_5_status,omitempty"`

	// CurrentStep 当前步骤（1-5），仅由用户显式操作推进
	CurrentStep int `bson:"current_step" json:"current_step"`

	Script         string          `bson:"script" json:"script"`                             // 原始脚本文本
	ScriptAnalysis *ScriptAnalysis `bson:"script_analysis,omitempty" json:"script_analysis,omitempty"` // 脚本分析结果

	AspectRatio     string `bson:"aspect_ratio" json:"aspect_ratio"`         // 画面比例：16:9 / 9:16
	EnableNarration bool   `bson:"enable_narration" json:"enable_narration"` // 旁白模式（视频片段独立生成）
	MuteBGM         bool   `bson:"mute_bgm" json:"mute_bgm"`                 // 合成时是否静音背景音乐

	MusicPrompt   string `bson:"music_prompt,omitempty" json:"music_prompt,omitempty"`       // 背景音乐生成提示词
	MusicTaskID   string `bson:"music_task_id,omitempty" json:"music_task_id,omitempty"`     // 音乐后端任务ID
	FinalVideoURL string `bson:"final_video_url,omitempty" json:"final_video_url,omitempty"` // 最终合成视频URL

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// Collection 返回集合名称
func (p *Project) Collection() string { return "agent_projects" }

// EnsureIndexes 创建和维护索引
func (p *Project) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(p.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
