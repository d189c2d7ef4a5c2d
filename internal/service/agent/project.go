package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/model/agent"
	"mango/internal/pkg/id"
)

// CreateProject 创建项目
func (s *service) CreateProject(ctx context.Context, userID string, req *CreateProjectRequest) (*agent.Project, error) {
	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "9:16"
	}
	if aspectRatio != "9:16" && aspectRatio != "16:9" {
		return nil, fmt.Errorf("invalid aspect ratio: %s", aspectRatio)
	}

	project := &agent.Project{
		ID:              id.New(),
		UserID:          userID,
		Title:           req.Title,
		Status:          agent.ProjectStatusDraft,
		CurrentStep:     1,
		Script:          req.Script,
		AspectRatio:     aspectRatio,
		EnableNarration: req.EnableNarration,
		MuteBGM:         req.MuteBGM,
		MusicPrompt:     req.MusicPrompt,
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	log.Info().Str("project_id", project.ID).Str("user_id", userID).Msg("项目创建成功")
	return project, nil
}

// GetProject 获取项目详情
// 项目不存在与归属不符返回同一个错误，避免泄露存在性
func (s *service) GetProject(ctx context.Context, userID, projectID string) (*agent.Project, error) {
	return s.loadProject(ctx, userID, projectID)
}

// ListProjects 分页查询用户项目
func (s *service) ListProjects(ctx context.Context, userID string, page, pageSize int64) ([]*agent.Project, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.projectRepo.ListByUser(ctx, userID, page, pageSize)
}

// DeleteProject 删除项目并级联删除子资源
// 子资源删除失败只记录日志，项目本身仍然删除
func (s *service) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := s.loadProject(ctx, userID, projectID); err != nil {
		return err
	}

	if err := s.characterRepo.DeleteByProjectID(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("级联删除角色失败")
	}
	if err := s.storyboardRepo.DeleteByProjectID(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("级联删除分镜图失败")
	}
	if err := s.clipRepo.DeleteByProjectID(ctx, projectID); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("级联删除视频片段失败")
	}

	if err := s.projectRepo.Delete(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	log.Info().Str("project_id", projectID).Msg("项目已删除")
	return nil
}

// AnalyzeScript 阶段1：脚本分析
// 重新分析会使已成功的视频片段全部变为 outdated（提示词不再匹配新脚本）
func (s *service) AnalyzeScript(ctx context.Context, userID, projectID string, req *AnalyzeScriptRequest) (*agent.ScriptAnalysis, error) {
	project, err := s.loadProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	script := project.Script
	if req != nil && req.Script != "" {
		script = req.Script
	}
	var targetDuration float64
	if req != nil {
		targetDuration = req.TargetDuration
	}

	analysis, err := s.analyzer.Analyze(ctx, script, targetDuration)
	if err != nil {
		if updErr := s.projectRepo.Update(ctx, projectID, bson.M{"step_1_status": agent.StageStatusFailed}); updErr != nil {
			log.Warn().Err(updErr).Str("project_id", projectID).Msg("写入阶段状态失败")
		}
		return nil, fmt.Errorf("analyze script: %w", err)
	}

	// 重新分析：旧分析产出的成功片段不再匹配新脚本
	if project.ScriptAnalysis != nil {
		if n, err := s.clipRepo.MarkAllOutdated(ctx, projectID); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Msg("标记过期片段失败")
		} else if n > 0 {
			log.Info().Str("project_id", projectID).Int64("count", n).Msg("重新分析后片段标记为过期")
		}
	}

	updates := bson.M{
		"script":          script,
		"script_analysis": analysis,
		"step_1_status":   agent.StageStatusCompleted,
		"status":          agent.ProjectStatusProcessing,
	}
	if err := s.projectRepo.Update(ctx, projectID, updates); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	log.Info().
		Str("project_id", projectID).
		Int("shot_count", analysis.ShotCount).
		Int("characters", len(analysis.Characters)).
		Msg("脚本分析完成")
	return analysis, nil
}

// loadProject 加载项目并校验归属
func (s *service) loadProject(ctx context.Context, userID, projectID string) (*agent.Project, error) {
	project, err := s.projectRepo.FindByIDAndUser(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	return project, nil
}

// requireAnalysis 加载项目并要求脚本已分析
func (s *service) requireAnalysis(ctx context.Context, userID, projectID string) (*agent.Project, error) {
	project, err := s.loadProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if project.ScriptAnalysis == nil {
		return nil, ErrScriptNotAnalyzed
	}
	if len(project.ScriptAnalysis.Shots) == 0 {
		return nil, ErrNoShots
	}
	return project, nil
}
