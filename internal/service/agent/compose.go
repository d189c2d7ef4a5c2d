package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"mango/internal/model/agent"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/id"
)

// Compose 阶段5：按分镜顺序拼接全部片段并混入背景音乐
//
// 前置条件：全部片段已成功生成。合成在后台执行：
// 下载片段 → ffmpeg concat → （可选）混入 BGM → 上传成品 → 更新项目。
// BGM 是尽力而为的：音乐任务未完成或失败时直接输出无 BGM 成品
func (s *service) Compose(ctx context.Context, userID, projectID string) (*TriggerResult, error) {
	project, err := s.requireAnalysis(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	shots := project.ScriptAnalysis.Shots

	clips, err := s.clipRepo.FindByProjectID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("find clips: %w", err)
	}
	clipByShot := make(map[int]*agent.VideoClip, len(clips))
	for _, clip := range clips {
		clipByShot[clip.ShotNumber] = clip
	}
	for _, shot := range shots {
		clip := clipByShot[shot.ShotNumber]
		if clip == nil || clip.Status != agent.ClipStatusSuccess || clip.VideoURL == "" {
			return nil, fmt.Errorf("%w: shot %d has no video", ErrClipsNotReady, shot.ShotNumber)
		}
	}

	if project.Step5Status != nil && *project.Step5Status == agent.StageStatusCompleted && project.FinalVideoURL != "" {
		return &TriggerResult{AlreadyCompleted: true, Total: len(shots), Message: "视频已合成"}, nil
	}

	if s.locker != nil {
		locked, lockErr := s.locker.TryLock(ctx, cache.ComposeDispatchLockKey(projectID), cache.DispatchLockTTL)
		if lockErr != nil {
			log.Warn().Err(lockErr).Str("project_id", projectID).Msg("获取派发锁失败，继续执行")
		} else if !locked {
			return &TriggerResult{AlreadyStarted: true, Total: len(shots), Message: "合成已在进行中"}, nil
		}
	}

	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_5_status": agent.StageStatusProcessing}); err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("写入阶段状态失败")
	}

	ordered := make([]*agent.VideoClip, 0, len(shots))
	for _, shot := range shots {
		ordered = append(ordered, clipByShot[shot.ShotNumber])
	}
	go s.dispatchCompose(context.WithoutCancel(ctx), project, ordered)

	log.Info().Str("project_id", projectID).Int("clips", len(ordered)).Msg("视频合成已派发")
	return &TriggerResult{Started: true, Total: len(shots), Message: "合成已启动"}, nil
}

// dispatchCompose 后台合成流水线
func (s *service) dispatchCompose(ctx context.Context, project *agent.Project, clips []*agent.VideoClip) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("project_id", project.ID).Msg("视频合成发生 panic")
			s.markComposeFailed(ctx, project.ID)
		}
		if s.locker != nil {
			_ = s.locker.Unlock(ctx, cache.ComposeDispatchLockKey(project.ID))
		}
	}()

	finalURL, err := s.composeProject(ctx, project, clips)
	if err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Msg("视频合成失败")
		s.markComposeFailed(ctx, project.ID)
		return
	}

	updates := bson.M{
		"final_video_url": finalURL,
		"step_5_status":   agent.StageStatusCompleted,
		"status":          agent.ProjectStatusCompleted,
	}
	if err := s.projectRepo.Update(ctx, project.ID, updates); err != nil {
		log.Error().Err(err).Str("project_id", project.ID).Msg("保存合成结果失败")
		return
	}
	log.Info().Str("project_id", project.ID).Str("url", finalURL).Msg("视频合成完成")
}

// composeFPS 成品视频统一帧率
const composeFPS = 30

// targetResolution 画面比例对应的成品分辨率
func targetResolution(aspectRatio string) (width, height int) {
	if aspectRatio == "16:9" {
		return 1920, 1080
	}
	return 1080, 1920
}

// composeProject 执行下载、标准化、拼接、混音与上传，返回成品 URL
func (s *service) composeProject(ctx context.Context, project *agent.Project, clips []*agent.VideoClip) (string, error) {
	workDir, err := os.MkdirTemp("", "compose-"+project.ID+"-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sort.Slice(clips, func(i, j int) bool { return clips[i].ShotNumber < clips[j].ShotNumber })

	width, height := targetResolution(project.AspectRatio)

	videoPaths := make([]string, 0, len(clips))
	for _, clip := range clips {
		data, err := s.videoBackend.Download(ctx, clip.VideoURL)
		if err != nil {
			return "", fmt.Errorf("download clip %d: %w", clip.ShotNumber, err)
		}
		path := filepath.Join(workDir, fmt.Sprintf("clip_%03d.mp4", clip.ShotNumber))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("write clip %d: %w", clip.ShotNumber, err)
		}

		// 不同批次生成的片段规格可能不一致，concat 前统一到目标分辨率
		info, err := s.ffmpeg.GetVideoInfo(ctx, path)
		if err != nil || info.Width != width || info.Height != height {
			standardized := filepath.Join(workDir, fmt.Sprintf("std_%03d.mp4", clip.ShotNumber))
			if err := s.ffmpeg.StandardizeVideo(ctx, path, standardized, width, height, composeFPS); err != nil {
				return "", fmt.Errorf("standardize clip %d: %w", clip.ShotNumber, err)
			}
			path = standardized
		}
		videoPaths = append(videoPaths, path)
	}

	merged := filepath.Join(workDir, "merged.mp4")
	if err := s.ffmpeg.ConcatVideos(ctx, videoPaths, merged); err != nil {
		return "", fmt.Errorf("concat videos: %w", err)
	}

	output := merged
	if bgmPath := s.fetchBGM(ctx, project, workDir); bgmPath != "" {
		mixed := filepath.Join(workDir, "final.mp4")
		if err := s.ffmpeg.MixAudio(ctx, merged, bgmPath, mixed); err != nil {
			log.Warn().Err(err).Str("project_id", project.ID).Msg("混入背景音乐失败，输出无 BGM 成品")
		} else {
			output = mixed
		}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return "", fmt.Errorf("read final video: %w", err)
	}
	key := fmt.Sprintf("agent/%s/final/%s.mp4", project.ID, id.New())
	url, err := s.store.Upload(ctx, key, bytes.NewReader(data), "video/mp4")
	if err != nil {
		return "", fmt.Errorf("upload final video: %w", err)
	}
	return url, nil
}

// fetchBGM 获取背景音乐音频文件，不可用时返回空路径
func (s *service) fetchBGM(ctx context.Context, project *agent.Project, workDir string) string {
	if project.MuteBGM || project.MusicTaskID == "" || s.musicBackend == nil {
		return ""
	}

	result, err := s.musicBackend.GetTask(ctx, project.MusicTaskID)
	if err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("查询音乐任务失败，跳过 BGM")
		return ""
	}
	if !result.Succeeded() || result.AudioURL == "" {
		log.Info().Str("project_id", project.ID).Str("status", result.Status).Msg("音乐任务未完成，跳过 BGM")
		return ""
	}

	data, err := s.musicBackend.Download(ctx, result.AudioURL)
	if err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("下载背景音乐失败，跳过 BGM")
		return ""
	}
	path := filepath.Join(workDir, "bgm.mp3")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("project_id", project.ID).Msg("写入背景音乐失败，跳过 BGM")
		return ""
	}
	return path
}

// markComposeFailed 记录阶段5失败
func (s *service) markComposeFailed(ctx context.Context, projectID string) {
	if err := s.projectRepo.Update(ctx, projectID, bson.M{"step_5_status": agent.StageStatusFailed}); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("写入阶段状态失败")
	}
}

// ComposeStatus 阶段5状态读取
func (s *service) ComposeStatus(ctx context.Context, userID, projectID string) (*ComposeStatusResult, error) {
	project, err := s.loadProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return &ComposeStatusResult{
		Status:        project.Step5Status,
		FinalVideoURL: project.FinalVideoURL,
	}, nil
}
