package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"mango/internal/model/agent"
	"mango/internal/pkg/scripttools"
)

// DeleteShot 删除分镜并级联重编号下游资源
//
// 级联步骤（任一步失败只记录日志，不中断其余步骤，删除本身必须完整落库）：
//  1. 删除该分镜对应的分镜图与视频片段记录
//  2. 从最小受影响编号向上，将后续分镜的图/片段记录依次改写为 n-1，
//     避免与尚未迁移的记录在唯一索引上冲突
//  3. 删除不再出现在任何分镜中的角色记录
//  4. 项目已推进到阶段2之后时，阶段3-5状态重置为未触达
func (s *service) DeleteShot(ctx context.Context, userID, projectID string, shotNumber int) (*DeleteShotResult, error) {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	analysis := project.ScriptAnalysis
	oldCount := len(analysis.Shots)
	oldCharacters := analysis.Characters

	result, err := scripttools.DeleteShot(analysis.Shots, shotNumber)
	if err != nil {
		return nil, err
	}

	analysis.Shots = result.Shots
	analysis.Characters = result.Characters
	analysis.ShotCount = len(result.Shots)
	analysis.Duration = scripttools.TotalDuration(result.Shots)

	set := bson.M{"script_analysis": analysis}
	var unset bson.M
	if project.CurrentStep >= 2 {
		unset = bson.M{
			"step_3_status": "",
			"step_4_status": "",
			"step_5_status": "",
		}
	}
	if err := s.projectRepo.UpdateWithUnset(ctx, projectID, set, unset); err != nil {
		return nil, fmt.Errorf("save analysis after delete: %w", err)
	}

	// 被删除分镜的下游记录
	if err := s.storyboardRepo.DeleteByShot(ctx, projectID, shotNumber); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Int("shot", shotNumber).Msg("删除分镜图记录失败")
	}
	if err := s.clipRepo.DeleteByShot(ctx, projectID, shotNumber); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Int("shot", shotNumber).Msg("删除视频片段记录失败")
	}

	// 后续分镜的下游记录重编号，从最小编号向上迁移
	for n := shotNumber + 1; n <= oldCount; n++ {
		if err := s.storyboardRepo.Rekey(ctx, projectID, n, n-1); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Int("from", n).Msg("分镜图重编号失败")
		}
		if err := s.clipRepo.Rekey(ctx, projectID, n, n-1); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Int("from", n).Msg("视频片段重编号失败")
		}
	}

	// 不再被任何分镜引用的角色
	charactersRemoved := scripttools.DiffNames(oldCharacters, result.Characters)
	if len(charactersRemoved) > 0 {
		s.removeCharactersByNames(ctx, projectID, charactersRemoved)
	}

	log.Info().
		Str("project_id", projectID).
		Int("deleted_shot", shotNumber).
		Int("new_shot_count", analysis.ShotCount).
		Strs("characters_removed", charactersRemoved).
		Msg("分镜已删除并完成级联重编号")

	return &DeleteShotResult{
		DeletedShotNumber: shotNumber,
		NewShotCount:      analysis.ShotCount,
		NewCharacters:     result.Characters,
		CharactersRemoved: charactersRemoved,
	}, nil
}

// removeCharactersByNames 删除指定名称的角色记录（大小写不敏感匹配）
func (s *service) removeCharactersByNames(ctx context.Context, projectID string, names []string) {
	existing, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("查询角色失败，跳过孤儿清理")
		return
	}

	var ids []string
	for _, character := range existing {
		if scripttools.ContainsName(names, character.CharacterName) {
			ids = append(ids, character.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if _, err := s.characterRepo.DeleteByIDs(ctx, projectID, ids); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Strs("names", names).Msg("删除孤儿角色失败")
	}
}

// PatchShot 部分更新单个分镜
// 时长变化会触发全部分镜时间范围重算；角色列表变化会触发项目角色列表重算
func (s *service) PatchShot(ctx context.Context, userID, projectID string, shotNumber int, patch *ShotPatch) (*agent.Shot, error) {
	if patch == nil || patch.Empty() {
		return nil, ErrEmptyPatch
	}

	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	analysis := project.ScriptAnalysis

	idx := -1
	for i := range analysis.Shots {
		if analysis.Shots[i].ShotNumber == shotNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("shot %d: %w", shotNumber, scripttools.ErrShotNotFound)
	}

	shot := &analysis.Shots[idx]
	if patch.Description != nil {
		shot.Description = *patch.Description
	}
	if patch.CameraAngle != nil {
		shot.CameraAngle = *patch.CameraAngle
	}
	if patch.CharacterAction != nil {
		shot.CharacterAction = *patch.CharacterAction
	}
	if patch.Mood != nil {
		shot.Mood = *patch.Mood
	}
	if patch.VideoPrompt != nil {
		shot.VideoPrompt = *patch.VideoPrompt
	}
	if patch.Seed != nil {
		shot.Seed = patch.Seed
	}

	if patch.DurationSeconds != nil {
		if *patch.DurationSeconds <= 0 {
			return nil, fmt.Errorf("duration must be positive")
		}
		shot.DurationSeconds = *patch.DurationSeconds
		scripttools.RecomputeTimeRanges(analysis.Shots)
		analysis.Duration = scripttools.TotalDuration(analysis.Shots)
	}

	if patch.Characters != nil {
		normalized := make([]string, 0, len(patch.Characters))
		for _, name := range patch.Characters {
			if n := scripttools.NormalizeName(name); n != "" {
				normalized = append(normalized, n)
			}
		}
		shot.Characters = normalized
		analysis.Characters = scripttools.ExtractCharacters(analysis.Shots)
	}

	if err := s.projectRepo.Update(ctx, projectID, bson.M{"script_analysis": analysis}); err != nil {
		return nil, fmt.Errorf("save shot patch: %w", err)
	}

	log.Info().Str("project_id", projectID).Int("shot", shotNumber).Msg("分镜已更新")
	updated := analysis.Shots[idx]
	return &updated, nil
}
