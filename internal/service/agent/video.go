package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/model/agent"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/id"
	"mango/internal/pkg/seedance"
)

// GenerateVideos 阶段4：幂等触发视频片段生成
//
// 触发语义与分镜图批量生成一致（锁 + 唯一索引认领 + 立即返回）。
// 生成模式由项目决定：
//   - 旁白模式（enable_narration）：片段相互独立，批量编排器并发生成
//   - 转场模式：片段链式衔接，前一片段的末尾帧是后一片段的首帧，
//     严格顺序执行，任一失败即中断整条链
func (s *service) GenerateVideos(ctx context.Context, userID, projectID string) (*TriggerResult, error) {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	shots := project.ScriptAnalysis.Shots

	// 每个分镜都需要一张可用的分镜图作为首帧来源
	storyboards, err := s.storyboardRepo.FindCurrentByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find storyboards: %w", err)
	}
	frameSource := make(map[int]string, len(storyboards))
	for _, sb := range storyboards {
		if sb.ImageURL != "" {
			frameSource[sb.ShotNumber] = sb.ImageURL
		}
	}
	for _, shot := range shots {
		if frameSource[shot.ShotNumber] == "" {
			return nil, fmt.Errorf("%w: shot %d has no storyboard image", ErrStoryboardsNotReady, shot.ShotNumber)
		}
	}

	// 积分校验先于任何外部调用
	if err := s.credits.Reserve(ctx, userID, len(shots)*s.cfg.CreditsPerClip); err != nil {
		return nil, err
	}

	if s.locker != nil {
		locked, lockErr := s.locker.TryLock(ctx, cache.VideoDispatchLockKey(projectID), cache.DispatchLockTTL)
		if lockErr != nil {
			log.Warn().Err(lockErr).Str("project_id", projectID).Msg("获取派发锁失败，回退到唯一索引去重")
		} else if !locked {
			return &TriggerResult{AlreadyStarted: true, Total: len(shots), Message: "生成已在进行中"}, nil
		}
	}

	staleBefore := time.Now().Add(-s.cfg.StalenessWindow)
	claimed := make(map[int]bool, len(shots))
	var claimedList []int
	for _, shot := range shots {
		placeholder := &agent.VideoClip{
			ID:         id.New(),
			ProjectID:  projectID,
			ShotNumber: shot.ShotNumber,
			Status:     agent.ClipStatusGenerating,
		}
		ok, err := s.clipRepo.Claim(ctx, placeholder, staleBefore)
		if err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Int("shot", shot.ShotNumber).Msg("认领片段槽位失败")
			continue
		}
		if ok {
			claimed[shot.ShotNumber] = true
			claimedList = append(claimedList, shot.ShotNumber)
		}
	}

	if len(claimedList) == 0 {
		// 没有派发任何工作，立即放锁，避免重复触发在 TTL 内被误判为进行中
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.VideoDispatchLockKey(projectID))
		}
		return s.videoTriggerNoop(ctx, projectID, len(shots))
	}

	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_4_status": agent.StageStatusProcessing}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入阶段状态失败")
	}

	bgCtx := context.WithoutCancel(ctx)
	if project.EnableNarration {
		go s.dispatchVideosIndependent(bgCtx, project, claimedList, frameSource)
	} else {
		go s.dispatchVideosChained(bgCtx, project, claimed, frameSource)
	}

	log.Info().
		Str("project_id", projectID).
		Ints("claimed", claimedList).
		Bool("narration", project.EnableNarration).
		Msg("视频片段生成已派发")
	return &TriggerResult{
		Started:   true,
		Triggered: claimedList,
		Total:     len(shots),
		Message:   "生成已启动",
	}, nil
}

// videoTriggerNoop 无新认领时判定返回"已完成"还是"已在进行中"
func (s *service) videoTriggerNoop(ctx context.Context, projectID string, total int) (*TriggerResult, error) {
	clips, err := s.clipRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find clips: %w", err)
	}
	success := 0
	for _, clip := range clips {
		if clip.Status == agent.ClipStatusSuccess {
			success++
		}
	}
	if success == total {
		return &TriggerResult{AlreadyCompleted: true, Total: total, Message: "视频片段已全部生成"}, nil
	}
	return &TriggerResult{AlreadyStarted: true, Total: total, Message: "生成已在进行中"}, nil
}

// dispatchVideosIndependent 旁白模式：片段独立并发生成
// 单个片段的失败不影响其他片段
func (s *service) dispatchVideosIndependent(ctx context.Context, project *agent.Project, claimed []int, frameSource map[int]string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("project_id", project.ID).Msg("视频批量生成发生 panic")
		}
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.VideoDispatchLockKey(project.ID))
		}
	}()

	shotsByNumber := shotIndex(project.ScriptAnalysis.Shots)

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

			s.generateClipIndependent(ctx, project, shot, frameSource[shot.ShotNumber])
		}(shot)
	}
	wg.Wait()

	s.finalizeVideoStage(ctx, project.ID, len(project.ScriptAnalysis.Shots))
}

// generateClipIndependent 独立生成单个片段（submit → poll → 落库）
func (s *service) generateClipIndependent(ctx context.Context, project *agent.Project, shot *agent.Shot, firstFrame string) {
	prompt := buildVideoPrompt(shot)
	taskID, err := s.videoBackend.SubmitTask(ctx, &seedance.SubmitRequest{
		Prompt:        prompt,
		FirstFrameURL: firstFrame,
		Duration:      s.clampDuration(shot.DurationSeconds),
		Ratio:         project.AspectRatio,
		Seed:          shot.Seed,
	})
	if err != nil {
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, err)
		return
	}
	if err := s.clipRepo.Update(ctx, project.ID, shot.ShotNumber, bson.M{"render_request_id": taskID}); err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("保存任务引用失败")
	}

	result, err := s.videoBackend.WaitForTask(ctx, taskID, s.cfg.PollInterval, s.cfg.PollMaxWait)
	if err != nil {
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, err)
		return
	}
	if !result.Succeeded() {
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, taskFailureError(result))
		return
	}

	if err := s.clipRepo.MarkSuccess(ctx, project.ID, shot.ShotNumber, result.VideoURL, result.LastFrameURL); err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入成功状态失败")
		return
	}
	log.Info().Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("视频片段生成成功")
}

// dispatchVideosChained 转场模式：严格顺序的链式生成
//
// 首个片段以分镜图为首帧；其后每个片段以前一片段返回的末尾帧为首帧。
// 任一片段失败（含末尾帧缺失）即中断：后续尚未尝试的片段全部标记为
// 失败并附"链条中断"错误，不再发生任何外部提交（fail-closed）
func (s *service) dispatchVideosChained(ctx context.Context, project *agent.Project, claimed map[int]bool, frameSource map[int]string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("project_id", project.ID).Msg("链式视频生成发生 panic")
		}
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.VideoDispatchLockKey(project.ID))
		}
	}()

	prevLastFrame := ""
	interruptReason := ""

	for i := range project.ScriptAnalysis.Shots {
		shot := &project.ScriptAnalysis.Shots[i]

		if !claimed[shot.ShotNumber] {
			// 未认领：要么已成功（链条可以借用其末尾帧），要么被其他派发占用
			clip, err := s.clipRepo.FindByShot(ctx, project.ID, shot.ShotNumber)
			if err == nil && clip.Status == agent.ClipStatusSuccess && clip.LastFrameURL != "" {
				prevLastFrame = clip.LastFrameURL
				continue
			}
			prevLastFrame = ""
			continue
		}

		if interruptReason != "" {
			// 首个被阻断的片段记录直接原因，其后的片段统一记"链条中断"
			if err := s.clipRepo.MarkFailed(ctx, project.ID, shot.ShotNumber, interruptReason); err != nil {
				log.Error().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入链条中断状态失败")
			}
			interruptReason = chainInterruptedMessage
			continue
		}

		firstFrame := prevLastFrame
		if firstFrame == "" {
			firstFrame = frameSource[shot.ShotNumber]
		}

		lastFrame, err := s.generateClipChained(ctx, project, shot, firstFrame)
		if err != nil {
			log.Warn().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("链式生成失败，中断后续片段")
			interruptReason = chainInterruptedMessage
			continue
		}
		if lastFrame == "" {
			// 片段本身成功但后端未返回末尾帧，链条无法继续
			log.Warn().Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("后端未返回末尾帧，中断后续片段")
			interruptReason = missingLastFrameMessage
			continue
		}
		prevLastFrame = lastFrame
	}

	s.finalizeVideoStage(ctx, project.ID, len(project.ScriptAnalysis.Shots))
}

// generateClipChained 生成链中的单个片段，返回末尾帧 URL
func (s *service) generateClipChained(ctx context.Context, project *agent.Project, shot *agent.Shot, firstFrame string) (string, error) {
	prompt := buildVideoPrompt(shot)
	taskID, err := s.videoBackend.SubmitTask(ctx, &seedance.SubmitRequest{
		Prompt:          prompt,
		FirstFrameURL:   firstFrame,
		Duration:        s.clampDuration(shot.DurationSeconds),
		Ratio:           project.AspectRatio,
		Seed:            shot.Seed,
		ReturnLastFrame: true,
	})
	if err != nil {
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, err)
		return "", err
	}
	if err := s.clipRepo.Update(ctx, project.ID, shot.ShotNumber, bson.M{"video_task_id": taskID}); err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("保存任务引用失败")
	}

	result, err := s.videoBackend.WaitForTask(ctx, taskID, s.cfg.PollInterval, s.cfg.PollMaxWait)
	if err != nil {
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, err)
		return "", err
	}
	if !result.Succeeded() {
		err := taskFailureError(result)
		s.markClipFailure(ctx, project.ID, shot.ShotNumber, prompt, err)
		return "", err
	}

	if err := s.clipRepo.MarkSuccess(ctx, project.ID, shot.ShotNumber, result.VideoURL, result.LastFrameURL); err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("写入成功状态失败")
	}
	log.Info().Str("project_id", project.ID).Int("shot", shot.ShotNumber).Msg("视频片段生成成功")
	return result.LastFrameURL, nil
}

// markClipFailure 记录片段失败，内容审核拒绝转换为带分镜上下文的专用错误
func (s *service) markClipFailure(ctx context.Context, projectID string, shotNumber int, prompt string, cause error) {
	message := cause.Error()
	if errors.Is(cause, seedance.ErrSensitiveContent) {
		message = newSensitiveContentError(shotNumber, prompt).Error()
	}
	if err := s.clipRepo.MarkFailed(ctx, projectID, shotNumber, message); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Int("shot", shotNumber).Msg("写入失败状态失败")
	}
}

// finalizeVideoStage 批次全部结算后计算聚合阶段状态
func (s *service) finalizeVideoStage(ctx context.Context, projectID string, total int) {
	clips, err := s.clipRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("读取片段失败，跳过聚合状态")
		return
	}

	var success, failed, pending int
	for _, clip := range clips {
		switch clip.Status {
		case agent.ClipStatusSuccess:
			success++
		case agent.ClipStatusFailed:
			failed++
		case agent.ClipStatusGenerating:
			pending++
		}
	}
	if pending > 0 {
		return
	}

	status := aggregateStageStatus(total, success, failed)
	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_4_status": status}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入聚合阶段状态失败")
	}
	log.Info().
		Str("project_id", projectID).
		Int("success", success).
		Int("failed", failed).
		Str("status", status.String()).
		Msg("视频批次结算完成")
}

// RetryVideo 重试单个片段（独立提交，不重建整条链）
// 前一片段有末尾帧时优先使用，保持与链式结果的视觉衔接
func (s *service) RetryVideo(ctx context.Context, userID, projectID string, shotNumber int) error {
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

	if err := s.credits.Reserve(ctx, userID, s.cfg.CreditsPerClip); err != nil {
		return err
	}

	placeholder := &agent.VideoClip{
		ID:         id.New(),
		ProjectID:  projectID,
		ShotNumber: shotNumber,
		Status:     agent.ClipStatusGenerating,
	}
	ok, err := s.clipRepo.Claim(ctx, placeholder, time.Now().Add(-s.cfg.StalenessWindow))
	if err != nil {
		return fmt.Errorf("claim clip slot: %w", err)
	}
	if !ok {
		return fmt.Errorf("clip %d is generating or already succeeded", shotNumber)
	}

	firstFrame := ""
	if !project.EnableNarration && shotNumber > 1 {
		if prev, err := s.clipRepo.FindByShot(ctx, projectID, shotNumber-1); err == nil &&
			prev.Status == agent.ClipStatusSuccess && prev.LastFrameURL != "" {
			firstFrame = prev.LastFrameURL
		}
	}
	if firstFrame == "" {
		sb, err := s.storyboardRepo.FindCurrent(ctx, projectID, shotNumber)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return fmt.Errorf("%w: shot %d has no storyboard image", ErrStoryboardsNotReady, shotNumber)
			}
			return fmt.Errorf("find storyboard: %w", err)
		}
		if sb.ImageURL == "" {
			return fmt.Errorf("%w: shot %d has no storyboard image", ErrStoryboardsNotReady, shotNumber)
		}
		firstFrame = sb.ImageURL
	}

	go func(shot agent.Shot, frame string) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Any("panic", r).Str("project_id", projectID).Msg("片段重试发生 panic")
			}
		}()
		ctx := context.WithoutCancel(ctx)
		s.generateClipIndependent(ctx, project, &shot, frame)
		s.finalizeVideoStage(ctx, projectID, len(project.ScriptAnalysis.Shots))
	}(*target, firstFrame)

	log.Info().Str("project_id", projectID).Int("shot", shotNumber).Msg("片段重试已派发")
	return nil
}

// VideoStatus 阶段4状态读取
// 副作用限于一致性修复：
//   - generating 且携带外部任务引用的片段惰性轮询一次，已结算则落库
//   - generating 且无任何任务引用、超过 staleness_window 的片段判定为
//     派发丢失，重置为 idle（可重新触发）
func (s *service) VideoStatus(ctx context.Context, userID, projectID string) (*VideoStatusResult, error) {
	project, err := s.loadProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	items, err := s.clipRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find clips: %w", err)
	}

	var shotsByNumber map[int]*agent.Shot
	if project.ScriptAnalysis != nil {
		shotsByNumber = shotIndex(project.ScriptAnalysis.Shots)
	}

	staleBefore := time.Now().Add(-s.cfg.StalenessWindow)
	for _, item := range items {
		if item.Status != agent.ClipStatusGenerating {
			continue
		}

		taskID := item.VideoTaskID
		if taskID == "" {
			taskID = item.RenderRequestID
		}
		if taskID != "" {
			prompt := ""
			if shot, ok := shotsByNumber[item.ShotNumber]; ok {
				prompt = buildVideoPrompt(shot)
			}
			s.reconcileClip(ctx, projectID, item, taskID, prompt)
			continue
		}

		if item.UpdatedAt.Before(staleBefore) {
			if err := s.clipRepo.Update(ctx, projectID, item.ShotNumber, bson.M{"status": agent.ClipStatusIdle}); err != nil {
				log.Warn().Err(err).Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("滞留片段修复失败")
			} else {
				item.Status = agent.ClipStatusIdle
				log.Info().Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("滞留片段已重置为待启动")
			}
		}
	}

	counts := ClipCounts{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case agent.ClipStatusIdle:
			counts.Idle++
		case agent.ClipStatusGenerating:
			counts.Generating++
		case agent.ClipStatusSuccess:
			counts.Success++
		case agent.ClipStatusFailed:
			counts.Failed++
		case agent.ClipStatusOutdated:
			counts.Outdated++
		}
	}

	if project.ScriptAnalysis != nil {
		total := len(project.ScriptAnalysis.Shots)
		if counts.Generating == 0 && counts.Idle == 0 && counts.Total >= total && total > 0 {
			status := aggregateStageStatus(total, counts.Success+counts.Outdated, counts.Failed)
			if project.Step4Status == nil || *project.Step4Status != status {
				if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_4_status": status}); err != nil {
					log.Warn().Err(err).Str("project_id", projectID).Msg("写入聚合阶段状态失败")
				} else {
					project.Step4Status = &status
				}
			}
		}
	}

	return &VideoStatusResult{
		Items:       items,
		Counts:      counts,
		StageStatus: project.Step4Status,
	}, nil
}

// reconcileClip 对 generating 片段做一次外部状态核对
func (s *service) reconcileClip(ctx context.Context, projectID string, item *agent.VideoClip, taskID, prompt string) {
	result, err := s.videoBackend.GetTask(ctx, taskID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("外部任务状态查询失败")
		return
	}
	switch {
	case result.Succeeded():
		if err := s.clipRepo.MarkSuccess(ctx, projectID, item.ShotNumber, result.VideoURL, result.LastFrameURL); err != nil {
			log.Error().Err(err).Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("写入成功状态失败")
			return
		}
		item.Status = agent.ClipStatusSuccess
		item.VideoURL = result.VideoURL
		item.LastFrameURL = result.LastFrameURL
	case result.Failed():
		message := taskErrorMessage(result)
		if result.Sensitive {
			message = newSensitiveContentError(item.ShotNumber, prompt).Error()
		}
		if err := s.clipRepo.MarkFailed(ctx, projectID, item.ShotNumber, message); err != nil {
			log.Error().Err(err).Str("project_id", projectID).Int("shot", item.ShotNumber).Msg("写入失败状态失败")
			return
		}
		item.Status = agent.ClipStatusFailed
		item.ErrorMessage = message
	}
}

// clampDuration 将分镜时长收敛到后端允许的范围并取整
func (s *service) clampDuration(d float64) int {
	if d < s.cfg.MinClipDuration {
		d = s.cfg.MinClipDuration
	}
	if d > s.cfg.MaxClipDuration {
		d = s.cfg.MaxClipDuration
	}
	return int(math.Round(d))
}

// buildVideoPrompt 构建视频生成提示词
func buildVideoPrompt(shot *agent.Shot) string {
	if shot.VideoPrompt != "" {
		return shot.VideoPrompt
	}
	prompt := shot.Description
	if shot.CharacterAction != "" {
		prompt += "，" + shot.CharacterAction
	}
	if shot.Mood != "" {
		prompt += "。" + shot.Mood
	}
	return prompt
}

// taskErrorMessage 提取任务失败原因
func taskErrorMessage(result *seedance.TaskResult) string {
	if result.ErrorMessage != "" {
		return result.ErrorMessage
	}
	return fmt.Sprintf("video generation %s", result.Status)
}

// taskFailureError 将终态失败结果转换为错误，保留内容审核拦截的可识别性
func taskFailureError(result *seedance.TaskResult) error {
	if result.Sensitive {
		return seedance.ErrSensitiveContent
	}
	return errors.New(taskErrorMessage(result))
}

// shotIndex 按编号索引分镜
func shotIndex(shots []agent.Shot) map[int]*agent.Shot {
	m := make(map[int]*agent.Shot, len(shots))
	for i := range shots {
		m[shots[i].ShotNumber] = &shots[i]
	}
	return m
}
