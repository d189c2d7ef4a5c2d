package agent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/config"
	"mango/internal/model/agent"
	"mango/internal/pkg/ffmpeg"
	"mango/internal/pkg/seedance"
	"mango/internal/pkg/storage"
	"mango/internal/pkg/suno"
	agentrepo "mango/internal/repository/agent"
)

// Service 视频项目服务接口
// 覆盖项目从脚本分析到最终合成的全部五个阶段
type Service interface {
	// CreateProject 创建项目
	CreateProject(ctx context.Context, userID string, req *CreateProjectRequest) (*agent.Project, error)

	// GetProject 获取项目详情（校验归属）
	GetProject(ctx context.Context, userID, projectID string) (*agent.Project, error)

	// ListProjects 分页查询用户项目
	ListProjects(ctx context.Context, userID string, page, pageSize int64) ([]*agent.Project, int64, error)

	// DeleteProject 删除项目并级联删除全部子资源
	DeleteProject(ctx context.Context, userID, projectID string) error

	// AnalyzeScript 阶段1：调用 LLM 将脚本拆解为分镜列表
	AnalyzeScript(ctx context.Context, userID, projectID string, req *AnalyzeScriptRequest) (*agent.ScriptAnalysis, error)

	// DeleteShot 删除分镜并级联重编号下游资源
	DeleteShot(ctx context.Context, userID, projectID string, shotNumber int) (*DeleteShotResult, error)

	// PatchShot 部分更新单个分镜的字段
	PatchShot(ctx context.Context, userID, projectID string, shotNumber int, patch *ShotPatch) (*agent.Shot, error)

	// ConfigureCharacters 阶段2：批量配置角色（解析、重命名传播、孤儿清理）
	ConfigureCharacters(ctx context.Context, userID, projectID string, inputs []*CharacterInput) (*ConfigureCharactersResult, error)

	// GetCharacters 获取项目角色列表
	GetCharacters(ctx context.Context, userID, projectID string) ([]*agent.Character, error)

	// GenerateStoryboards 阶段3：幂等触发分镜图批量生成
	GenerateStoryboards(ctx context.Context, userID, projectID string) (*TriggerResult, error)

	// RegenerateStoryboard 重新生成单张分镜图（旧版本保留为历史记录）
	RegenerateStoryboard(ctx context.Context, userID, projectID string, shotNumber int) error

	// StoryboardStatus 阶段3状态读取（含滞留记录的惰性修复）
	StoryboardStatus(ctx context.Context, userID, projectID string) (*StoryboardStatusResult, error)

	// GenerateVideos 阶段4：幂等触发视频片段生成（链式或独立模式）
	GenerateVideos(ctx context.Context, userID, projectID string) (*TriggerResult, error)

	// RetryVideo 重试单个失败的视频片段（独立生成）
	RetryVideo(ctx context.Context, userID, projectID string, shotNumber int) error

	// VideoStatus 阶段4状态读取（含外部任务的惰性轮询与滞留修复）
	VideoStatus(ctx context.Context, userID, projectID string) (*VideoStatusResult, error)

	// Compose 阶段5：拼接全部片段并混入背景音乐
	Compose(ctx context.Context, userID, projectID string) (*TriggerResult, error)

	// ComposeStatus 阶段5状态读取
	ComposeStatus(ctx context.Context, userID, projectID string) (*ComposeStatusResult, error)
}

// ScriptAnalyzer 脚本分析能力（由 internal/ai 实现）
type ScriptAnalyzer interface {
	Analyze(ctx context.Context, script string, targetDuration float64) (*agent.ScriptAnalysis, error)
}

// ImageBackend 图片生成后端（分镜图）
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, size string) ([]byte, error)
}

// VideoBackend 视频生成后端（异步任务型，submit/poll 拆分）
type VideoBackend interface {
	SubmitTask(ctx context.Context, req *seedance.SubmitRequest) (string, error)
	GetTask(ctx context.Context, taskID string) (*seedance.TaskResult, error)
	WaitForTask(ctx context.Context, taskID string, pollInterval, maxWait time.Duration) (*seedance.TaskResult, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// MusicBackend 背景音乐生成后端
type MusicBackend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GetTask(ctx context.Context, taskID string) (*suno.TaskResult, error)
	Download(ctx context.Context, audioURL string) ([]byte, error)
}

// CreditsGate 积分校验（通过/拒绝），在任何外部调用发生之前执行
type CreditsGate interface {
	Reserve(ctx context.Context, userID string, amount int) error
}

// Locker 分布式锁（批量触发入口的第一层去重，best-effort）
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// allowAllCredits 默认积分实现：不限制
type allowAllCredits struct{}

func (allowAllCredits) Reserve(ctx context.Context, userID string, amount int) error { return nil }

// NewAllowAllCredits 创建不做任何限制的积分实现
func NewAllowAllCredits() CreditsGate { return allowAllCredits{} }

// service 视频项目服务实现
type service struct {
	projectRepo    agentrepo.ProjectRepository
	characterRepo  agentrepo.CharacterRepository
	storyboardRepo agentrepo.StoryboardRepository
	clipRepo       agentrepo.VideoClipRepository

	analyzer     ScriptAnalyzer
	imageBackend ImageBackend
	videoBackend VideoBackend
	musicBackend MusicBackend

	credits CreditsGate
	locker  Locker
	store   storage.Storage
	ffmpeg  *ffmpeg.Client

	cfg *config.GenerateConfig
}

// Deps 服务依赖集合
type Deps struct {
	DB           *mongo.Database
	Analyzer     ScriptAnalyzer
	ImageBackend ImageBackend
	VideoBackend VideoBackend
	MusicBackend MusicBackend
	Credits      CreditsGate // 为空时不限制
	Locker       Locker
	Storage      storage.Storage
	Generate     *config.GenerateConfig
}

// NewService 创建视频项目服务
// repository 在内部创建；后端与存储由调用方注入
func NewService(deps *Deps) Service {
	credits := deps.Credits
	if credits == nil {
		credits = NewAllowAllCredits()
	}

	return &service{
		projectRepo:    agentrepo.NewProjectRepo(deps.DB),
		characterRepo:  agentrepo.NewCharacterRepo(deps.DB),
		storyboardRepo: agentrepo.NewStoryboardRepo(deps.DB),
		clipRepo:       agentrepo.NewVideoClipRepo(deps.DB),
		analyzer:       deps.Analyzer,
		imageBackend:   deps.ImageBackend,
		videoBackend:   deps.VideoBackend,
		musicBackend:   deps.MusicBackend,
		credits:        credits,
		locker:         deps.Locker,
		store:          deps.Storage,
		ffmpeg:         ffmpeg.NewClient(),
		cfg:            deps.Generate,
	}
}

// newServiceWithRepos 测试入口：直接注入仓库与后端的实现
func newServiceWithRepos(
	projectRepo agentrepo.ProjectRepository,
	characterRepo agentrepo.CharacterRepository,
	storyboardRepo agentrepo.StoryboardRepository,
	clipRepo agentrepo.VideoClipRepository,
	deps *Deps,
) *service {
	credits := deps.Credits
	if credits == nil {
		credits = NewAllowAllCredits()
	}
	return &service{
		projectRepo:    projectRepo,
		characterRepo:  characterRepo,
		storyboardRepo: storyboardRepo,
		clipRepo:       clipRepo,
		analyzer:       deps.Analyzer,
		imageBackend:   deps.ImageBackend,
		videoBackend:   deps.VideoBackend,
		musicBackend:   deps.MusicBackend,
		credits:        credits,
		locker:         deps.Locker,
		store:          deps.Storage,
		ffmpeg:         ffmpeg.NewClient(),
		cfg:            deps.Generate,
	}
}
