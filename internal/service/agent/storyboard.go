package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/model/agent"
	"mango/internal/pkg/ark"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/id"
)

// GenerateStoryboards 阶段3：幂等触发分镜图批量生成
//
// 触发语义（可重复调用，不会重复派发）：
//  1. Redis SETNX 锁做第一层去重（best-effort，锁异常不阻断）
//  2. 逐分镜尝试认领占位记录，(project_id, shot_number) 唯一索引保证
//     同一分镜只会被一次调用认领；failed 与滞留超过 staleness_window
//     的 generating 记录可被重新认领
//  3. 无任何认领成功时返回"已在进行中/已完成"，不产生新的外部调用
//  4. 认领成功后立即返回，生成工作在后台按并发上限推进
func (s *service) GenerateStoryboards(ctx context.Context, userID, projectID string) (*TriggerResult, error) {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	shots := project.ScriptAnalysis.Shots

	if err := s.credits.Reserve(ctx, userID, len(shots)*s.cfg.CreditsPerImage); err != nil {
		return nil, err
	}

	if s.locker != nil {
		locked, lockErr := s.locker.TryLock(ctx, cache.StoryboardDispatchLockKey(projectID), cache.DispatchLockTTL)
		if lockErr != nil {
			log.Warn().Err(lockErr).Str("project_id", projectID).Msg("获取派发锁失败，回退到唯一索引去重")
		} else if !locked {
			return &TriggerResult{AlreadyStarted: true, Total: len(shots), Message: "生成已在进行中"}, nil
		}
	}

	staleBefore := time.Now().Add(-s.cfg.StalenessWindow)
	var claimed []int
	for _, shot := range shots {
		placeholder := &agent.Storyboard{
			ID:         id.New(),
			ProjectID:  projectID,
			ShotNumber: shot.ShotNumber,
			Status:     agent.StoryboardStatusGenerating,
			IsCurrent:  true,
		}
		ok, err := s.storyboardRepo.Claim(ctx, placeholder, staleBefore)
		if err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Int("shot", shot.ShotNumber).Msg("认领分镜图槽位失败")
			continue
		}
		if ok {
			claimed = append(claimed, shot.ShotNumber)
		}
	}

	if len(claimed) == 0 {
		// 没有派发任何工作，立即放锁，避免重复触发在 TTL 内被误判为进行中
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.StoryboardDispatchLockKey(projectID))
		}
		return s.storyboardTriggerNoop(ctx, projectID, len(shots))
	}

	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_3_status": agent.StageStatusProcessing}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入阶段状态失败")
	}

	s.kickoffMusic(ctx, project)

	characters, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("查询角色失败，分镜图提示词不含角色描述")
	}

	// 触发调用到此返回，生成在独立的错误边界内继续
	go s.dispatchStoryboards(context.WithoutCancel(ctx), project, claimed, characters)

	log.Info().Str("project_id", projectID).Ints("claimed", claimed).Msg("分镜图批量生成已派发")
	return &TriggerResult{
		Started:   true,
		Triggered: claimed,
		Total:     len(shots),
		Message:   "生成已启动",
	}, nil
}

// storyboardTriggerNoop 无新认领时判定返回"已完成"还是"已在进行中"
func (s *service) storyboardTriggerNoop(ctx context.Context, projectID string, total int) (*TriggerResult, error) {
	existing, err := s.storyboardRepo.FindCurrentByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find storyboards: %w", err)
	}
	success := 0
	for _, sb := range existing {
		if sb.Status == agent.StoryboardStatusSuccess {
			success++
		}
	}
	if success == total {
		return &TriggerResult{AlreadyCompleted: true, Total: total, Message: "分镜图已全部生成"}, nil
	}
	return &TriggerResult{AlreadyStarted: true, Total: total, Message: "生成已在进行中"}, nil
}

// kickoffMusic 并行启动背景音乐生成（非关键路径，失败只记录日志）
func (s *service) kickoffMusic(ctx context.Context, project *agent.Project) {
	if s.musicBackend == nil || project.MusicPrompt == "" || project.MusicTaskID != "" {
		return
	}
	taskID, err := s.musicBackend.Generate(ctx, project.MusicPrompt)
	if err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("背景音乐任务提交失败")
		return
	}
	if err := s.projectRepo.Update(ctx, project.ID, bson.M{"music_task_id": taskID}); err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("保存音乐任务ID失败")
		return
	}
	project.MusicTaskID = taskID
	log.Info().Str("project_id", project.ID).Str("task_id", taskID).Msg("背景音乐生成已启动")
}

// dispatchStoryboards 后台批量生成分镜图
// 并发上限由配置控制；每个分镜的结果在外部调用结束时立即落库，
// 轮询端在批次完成前就能看到部分进度
func (s *service) dispatchStoryboards(ctx context.Context, project *agent.Project, claimed []int, characters []*agent.Character) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("project_id", project.ID).Msg("分镜图批量生成发生 panic")
		}
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.StoryboardDispatchLockKey(project.ID))
		}
	}()

	shotsByNumber := make(map[int]*agent.Shot, len(project.ScriptAnalysis.Shots))
	for i := range project.ScriptAnalysis.Shots {
		shotsByNumber[project.ScriptAnalysis.Shots[i].ShotNumber] = &project.ScriptAnalysis.Shots[i]
	}

	semaphore := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, shotNumber := range claimed {
		shot, ok := shotsByNumber[shotNumber]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(shot *agent.Shot) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			s.generateStoryboardItem(ctx, project, shot, characters)
		}(shot)
	}
	wg.Wait()

	s.finalizeStoryboardStage(ctx, project.ID, len(project.ScriptAnalysis.Shots))
}

// generateStoryboardItem 生成单张分镜图并立即落库
func (s *service) generateStoryboardItem(ctx context.Context, project *agent.Project, shot *agent.Shot, characters []*agent.Character) {
	prompt := buildStoryboardPrompt(project, shot, characters)
	size := ark.SizeForAspectRatio(project.AspectRatio)

	imageData, err := s.imageBackend.GenerateImage(ctx, prompt, size)
	if err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("分镜图生成失败")
		if markErr := s.storyboardRepo.MarkFailed(ctx, project.ID, shot.ShotNumber, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入失败状态失败")
		}
		return
	}

	key := fmt.Sprintf("agent/%s/storyboards/%d_%s.png", project.ID, shot.ShotNumber, id.New())
	url, err := s.store.Upload(ctx, key, bytes.NewReader(imageData), "image/png")
	if err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("分镜图上传失败")
		if markErr := s.storyboardRepo.MarkFailed(ctx, project.ID, shot.ShotNumber, fmt.Sprintf("upload image: %v", err)); markErr != nil {
			log.Error().Err(markErr).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入失败状态失败")
		}
		return
	}

	if err := s.storyboardRepo.MarkSuccess(ctx, project.ID, shot.ShotNumber, url, ""); err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入成功状态失败")
		return
	}
	log.Info().Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("分镜图生成成功")
}

// finalizeStoryboardStage 批次全部结算后计算聚合阶段状态
// 零失败为 completed，全部失败为 failed，否则 partial
func (s *service) finalizeStoryboardStage(ctx context.Context, projectID string, total int) {
	existing, err := s.storyboardRepo.FindCurrentByProject(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("读取分镜图失败，跳过聚合状态")
		return
	}

	var success, failed, pending int
	for _, sb := range existing {
		switch sb.Status {
		case agent.StoryboardStatusSuccess:
			success++
		case agent.StoryboardStatusFailed:
			failed++
		case agent.StoryboardStatusGenerating:
			pending++
		}
	}
	if pending > 0 {
		return
	}

	status := aggregateStageStatus(total, success, failed)
	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_3_status": status}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入聚合阶段状态失败")
	}
	log.Info().
		Str("project_id", projectID).
		Int("success", success).
		Int("failed", failed).
		Str("status", status.String()).
		Msg("分镜图批次结算完成")
}

// aggregateStageStatus 按成功/失败数计算阶段聚合状态
func aggregateStageStatus(total, success, failed int) agent.StageStatus {
	switch {
	case failed == 0 && success >= total:
		return agent.StageStatusCompleted
	case failed > 0 && success == 0:
		return agent.StageStatusFailed
	default:
		return agent.StageStatusPartial
	}
}

// RegenerateStoryboard 重新生成单张分镜图
// 旧版本标记为历史记录（is_current=false）而非删除，保留生成轨迹
func (s *service) RegenerateStoryboard(ctx context.Context, userID, projectID string, shotNumber int) error {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return err
	}

	var target *agent.Shot
	for i := range project.ScriptAnalysis.Shots {
		if project.ScriptAnalysis.Shots[i].ShotNumber == shotNumber {
			target = &project.ScriptAnalysis.Shots[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	if err := s.credits.Reserve(ctx, userID, s.cfg.CreditsPerImage); err != nil {
		return err
	}

	// 旧版本转为历史记录，尝试次数留在历史记录上，新槽位从 1 重新计数
	if _, err := s.storyboardRepo.FindCurrent(ctx, projectID, shotNumber); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("find storyboard: %w", err)
		}
	} else if err := s.storyboardRepo.Supersede(ctx, projectID, shotNumber); err != nil {
		return fmt.Errorf("supersede storyboard: %w", err)
	}

	placeholder := &agent.Storyboard{
		ID:         id.New(),
		ProjectID:  projectID,
		ShotNumber: shotNumber,
		Status:     agent.StoryboardStatusGenerating,
		IsCurrent:  true,
	}
	if _, err := s.storyboardRepo.Claim(ctx, placeholder, time.Now()); err != nil {
		return fmt.Errorf("claim storyboard slot: %w", err)
	}

	characters, err := s.characterRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("查询角色失败，分镜图提示词不含角色描述")
	}

	go func(shot agent.Shot) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Any("panic", r).Str("project_id", projectID).Msg("分镜图重生成发生 panic")
			}
		}()
		s.generateStoryboardItem(context.WithoutCancel(ctx), project, &shot, characters)
	}(*target)

	log.Info().Str("project_id", projectID).Int("shot", shotNumber).Msg("分镜图重生成已派发")
	return nil
}

// StoryboardStatus 阶段3状态读取
// 纯读取，唯一的副作用是滞留 generating 记录的惰性修复：
// 超过 staleness_window 仍未结算的记录标记为失败（可重新认领）
func (s *service) StoryboardStatus(ctx context.Context, userID, projectID string) (*StoryboardStatusResult, error) {
	project, err := s.loadProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	items, err := s.storyboardRepo.FindCurrentByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find storyboards: %w", err)
	}

	staleBefore := time.Now().Add(-s.cfg.StalenessWindow)
	counts := StoryboardCounts{Total: len(items)}
	for _, item := range items {
		if item.Status == agent.StoryboardStatusGenerating && item.UpdatedAt.Before(staleBefore) {
			if err := s.storyboardRepo.MarkFailed(ctx, projectID, item.ShotNumber, dispatchLostMessage); err != nil {
				log.Warn().Err(err).Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("滞留记录修复失败")
			} else {
				item.Status = agent.StoryboardStatusFailed
				item.ErrorMessage = dispatchLostMessage
			}
		}

		switch item.Status {
		case agent.StoryboardStatusGenerating:
			counts.Generating++
		case agent.StoryboardStatusSuccess:
			counts.Success++
		case agent.StoryboardStatusFailed:
			counts.Failed++
		case agent.StoryboardStatusOutdated:
			counts.Outdated++
		}
	}

	// 全部结算且覆盖全部分镜时，惰性写入聚合阶段状态
	if project.ScriptAnalysis != nil {
		total := len(project.ScriptAnalysis.Shots)
		if counts.Generating == 0 && counts.Total >= total && total > 0 {
			status := aggregateStageStatus(total, counts.Success+counts.Outdated, counts.Failed)
			if project.Step3Status == nil || *project.Step3Status != status {
				if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_3_status": status}); err != nil {
					log.Warn().Err(err).Str("project_id", projectID).Msg("写入聚合阶段状态失败")
				} else {
					project.Step3Status = &status
				}
			}
		}
	}

	return &StoryboardStatusResult{
		Items:       items,
		Counts:      counts,
		StageStatus: project.Step3Status,
	}, nil
}

// buildStoryboardPrompt 构建分镜图生成提示词
// 角色有参考图时在提示词中附加外观描述，保持跨分镜一致性
func buildStoryboardPrompt(project *agent.Project, shot *agent.Shot, characters []*agent.Character) string {
	var b strings.Builder
	if style := project.ScriptAnalysis.StoryStyle; style != "" {
		b.WriteString(style)
		b.WriteString("风格。")
	}
	b.WriteString(shot.Description)
	if shot.CharacterAction != "" {
		b.WriteString("，")
		b.WriteString(shot.CharacterAction)
	}
	if shot.Mood != "" {
		b.WriteString("。氛围：")
		b.WriteString(shot.Mood)
	}
	if shot.CameraAngle != "" {
		b.WriteString("。镜头：")
		b.WriteString(shot.CameraAngle)
	}

	for _, name := range shot.Characters {
		for _, character := range characters {
			if character.GenerationPrompt != "" && strings.EqualFold(character.CharacterName, name) {
				b.WriteString("。")
				b.WriteString(name)
				b.WriteString("：")
				b.WriteString(character.GenerationPrompt)
				break
			}
		}
	}
	return b.String()
}
