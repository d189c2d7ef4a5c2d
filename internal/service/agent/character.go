package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"mango/internal/model/agent"
	"mango/internal/pkg/id"
	"mango/internal/pkg/scripttools"
)

// GetCharacters 获取项目角色列表
func (s *service) GetCharacters(ctx context.Context, userID, projectID string) ([]*agent.Character, error) {
	if _, err := s.loadProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.characterRepo.FindByProjectID(ctx, projectID)
}

// ConfigureCharacters 阶段2：批量配置角色
//
// 解析规则：携带 ID 的配置项按 ID 更新（完全忽略名称匹配）；
// 未携带 ID 的按名称大小写不敏感匹配既有记录（旧客户端兼容路径，
// 计划废弃），都未命中则新建。
// 全部配置项处理完成后执行清理：删除本次未提交的孤儿记录，
// 对并发产生的同名记录只保留最新创建的一条。
// 检测到的重命名事件立即传播到分镜文本与下游资源（§ 见 propagateRename）。
func (s *service) ConfigureCharacters(ctx context.Context, userID, projectID string, inputs []*CharacterInput) (*ConfigureCharactersResult, error) {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("character list is empty")
	}

	// 名称规范化 + 整批重名拒绝（不产生部分写入）
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		name := scripttools.NormalizeName(input.CharacterName)
		if name == "" {
			return nil, fmt.Errorf("character name is empty")
		}
		input.CharacterName = name
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCharacterName, name)
		}
		seen[key] = true
	}

	existing, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find characters: %w", err)
	}
	byID := make(map[string]*agent.Character, len(existing))
	byName := make(map[string]*agent.Character, len(existing))
	for _, character := range existing {
		byID[character.ID] = character
		byName[strings.ToLower(character.CharacterName)] = character
	}

	var renames []scripttools.RenameEvent
	keptIDs := make(map[string]bool, len(inputs))

	for _, input := range inputs {
		var row *agent.Character
		if input.ID != "" {
			row = byID[input.ID]
		} else {
			// 旧客户端兼容路径：按名称匹配
			row = byName[strings.ToLower(input.CharacterName)]
		}

		if row != nil {
			if !scripttools.EqualNames(row.CharacterName, input.CharacterName) {
				// 重命名后的名称与另一个既有角色冲突是数据损坏路径，整批拒绝
				if other, ok := byName[strings.ToLower(input.CharacterName)]; ok && other.ID != row.ID {
					return nil, fmt.Errorf("%w: %s", ErrRenameCollision, input.CharacterName)
				}
				renames = append(renames, scripttools.RenameEvent{
					OldName: row.CharacterName,
					NewName: input.CharacterName,
				})
			}
			if err := s.characterRepo.Update(ctx, row.ID, characterUpdates(input)); err != nil {
				log.Warn().Err(err).Str("character_id", row.ID).Msg("更新角色失败，跳过")
				continue
			}
			keptIDs[row.ID] = true
			continue
		}

		character := &agent.Character{
			ID:               id.New(),
			ProjectID:        projectID,
			UserID:           userID,
			CharacterName:    input.CharacterName,
			Source:           input.Source,
			TemplateID:       input.TemplateID,
			GenerationPrompt: input.GenerationPrompt,
			NegativePrompt:   input.NegativePrompt,
			ReferenceImages:  referenceImages(input.ReferenceImages),
		}
		if err := s.characterRepo.Create(ctx, character); err != nil {
			log.Warn().Err(err).Str("name", input.CharacterName).Msg("创建角色失败，跳过")
			continue
		}
		keptIDs[character.ID] = true
	}

	// 重命名传播（在孤儿判定之前，保证判定依据是改写后的分镜）
	var affectedShots []int
	for _, event := range renames {
		affected := s.propagateRename(ctx, projectID, project.ScriptAnalysis, event)
		affectedShots = mergeShotNumbers(affectedShots, affected)
	}
	if len(renames) > 0 {
		if err := s.projectRepo.Update(ctx, projectID, bson.M{"script_analysis": project.ScriptAnalysis}); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Msg("持久化重命名后的分镜失败")
		}
	}

	orphansRemoved := s.cleanupOrphans(ctx, projectID, keptIDs)
	duplicatesRemoved := s.convergeDuplicates(ctx, projectID)

	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_2_status": agent.StageStatusCompleted}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入阶段状态失败")
	}

	characters, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("reload characters: %w", err)
	}

	log.Info().
		Str("project_id", projectID).
		Int("characters", len(characters)).
		Int("renames", len(renames)).
		Int64("orphans_removed", orphansRemoved).
		Int64("duplicates_removed", duplicatesRemoved).
		Msg("角色配置完成")

	return &ConfigureCharactersResult{
		Characters:        characters,
		Renames:           renames,
		AffectedShots:     affectedShots,
		OrphansRemoved:    orphansRemoved,
		DuplicatesRemoved: duplicatesRemoved,
	}, nil
}

// propagateRename 将一次重命名传播到分镜文本与下游资源
// 返回受影响的分镜编号。对同一事件重复执行是空操作（无可匹配文本），
// 下游标记为 outdated 而非删除：画面可能仍然可用，由用户决定是否重生成
func (s *service) propagateRename(ctx context.Context, projectID string, analysis *agent.ScriptAnalysis, event scripttools.RenameEvent) []int {
	affected := scripttools.ReplaceCharacterName(analysis.Shots, event.OldName, event.NewName)
	analysis.Characters = scripttools.RenameInCharacterList(analysis.Characters, event.OldName, event.NewName)

	if err := s.storyboardRepo.MarkOutdatedByShots(ctx, projectID, affected); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("标记过期分镜图失败")
	}
	if err := s.clipRepo.MarkOutdatedByShots(ctx, projectID, affected); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("标记过期片段失败")
	}

	log.Info().
		Str("project_id", projectID).
		Str("old_name", event.OldName).
		Str("new_name", event.NewName).
		Ints("affected_shots", affected).
		Msg("角色重命名已传播")
	return affected
}

// cleanupOrphans 删除本次配置未提交的角色记录
func (s *service) cleanupOrphans(ctx context.Context, projectID string, keptIDs map[string]bool) int64 {
	existing, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("查询角色失败，跳过孤儿清理")
		return 0
	}

	var orphanIDs []string
	for _, character := range existing {
		if !keptIDs[character.ID] {
			orphanIDs = append(orphanIDs, character.ID)
		}
	}
	if len(orphanIDs) == 0 {
		return 0
	}

	removed, err := s.characterRepo.DeleteByIDs(ctx, projectID, orphanIDs)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("清理孤儿角色失败")
		return 0
	}
	return removed
}

// convergeDuplicates 收敛同名角色（并发配置在名称匹配路径上竞争的产物）
// 同名分组只保留创建时间最新的一条
func (s *service) convergeDuplicates(ctx context.Context, projectID string) int64 {
	existing, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("查询角色失败，跳过重复收敛")
		return 0
	}

	groups := make(map[string][]*agent.Character)
	for _, character := range existing {
		key := strings.ToLower(scripttools.NormalizeName(character.CharacterName))
		groups[key] = append(groups[key], character)
	}

	var staleIDs []string
	for _, group := range groups {
		if len(group) <= 1 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		for _, stale := range group[1:] {
			staleIDs = append(staleIDs, stale.ID)
		}
	}
	if len(staleIDs) == 0 {
		return 0
	}

	removed, err := s.characterRepo.DeleteByIDs(ctx, projectID, staleIDs)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("收敛重复角色失败")
		return 0
	}
	log.Info().Str("project_id", projectID).Int64("removed", removed).Msg("重复角色已收敛")
	return removed
}

// characterUpdates 构建角色更新字段
// 参考图非空时整体替换：合并无法表达删除与重排
func characterUpdates(input *CharacterInput) bson.M {
	updates := bson.M{
		"character_name":    input.CharacterName,
		"source":            input.Source,
		"template_id":       input.TemplateID,
		"generation_prompt": input.GenerationPrompt,
		"negative_prompt":   input.NegativePrompt,
	}
	if len(input.ReferenceImages) > 0 {
		updates["reference_images"] = referenceImages(input.ReferenceImages)
	}
	return updates
}

// referenceImages 将 URL 列表转换为带 1-based 顺序的参考图列表
func referenceImages(urls []string) []agent.ReferenceImage {
	images := make([]agent.ReferenceImage, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		images = append(images, agent.ReferenceImage{ImageURL: url, ImageOrder: len(images) + 1})
	}
	return images
}

// mergeShotNumbers 合并分镜编号并保持升序去重
func mergeShotNumbers(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var merged []int
	for _, n := range append(a, b...) {
		if !seen[n] {
			seen[n] = true
			merged = append(merged, n)
		}
	}
	sort.Ints(merged)
	return merged
}
