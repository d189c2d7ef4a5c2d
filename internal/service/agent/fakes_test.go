package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/config"
	"mango/internal/model/agent"
	"mango/internal/pkg/seedance"
	"mango/internal/pkg/storage"
	"mango/internal/pkg/suno"
)

// 内存版仓库与后端，语义对齐 MongoDB 实现：
// Claim 的可认领条件、唯一约束、软删除等行为保持一致，
// 让编排逻辑可以在无外部依赖的情况下完整走通。

const testUserID = "user-1"

// ---- 项目仓库 ----

type memProjectRepo struct {
	mu   sync.Mutex
	rows map[string]*agent.Project
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{rows: make(map[string]*agent.Project)}
}

func (r *memProjectRepo) Create(ctx context.Context, project *agent.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	r.rows[project.ID] = project
	return nil
}

func (r *memProjectRepo) FindByID(ctx context.Context, id string) (*agent.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.DeletedAt != nil {
		return nil, mongo.ErrNoDocuments
	}
	clone := *p
	return &clone, nil
}

func (r *memProjectRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*agent.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.DeletedAt != nil || p.UserID != userID {
		return nil, mongo.ErrNoDocuments
	}
	clone := *p
	return &clone, nil
}

func (r *memProjectRepo) ListByUser(ctx context.Context, userID string, page, pageSize int64) ([]*agent.Project, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var projects []*agent.Project
	for _, p := range r.rows {
		if p.UserID == userID && p.DeletedAt == nil {
			clone := *p
			projects = append(projects, &clone)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].CreatedAt.After(projects[j].CreatedAt) })
	return projects, int64(len(projects)), nil
}

func (r *memProjectRepo) Update(ctx context.Context, id string, updates bson.M) error {
	return r.UpdateWithUnset(ctx, id, updates, nil)
}

func (r *memProjectRepo) UpdateWithUnset(ctx context.Context, id string, set, unset bson.M) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return nil
	}
	for key, value := range set {
		switch key {
		case "status":
			p.Status = value.(agent.ProjectStatus)
		case "script":
			p.Script = value.(string)
		case "script_analysis":
			p.ScriptAnalysis = value.(*agent.ScriptAnalysis)
		case "step_1_status":
			p.Step1Status = stagePtr(value)
		case "step_2_status":
			p.Step2Status = stagePtr(value)
		case "step_3_status":
			p.Step3Status = stagePtr(value)
		case "step_4_status":
			p.Step4Status = stagePtr(value)
		case "step_5_status":
			p.Step5Status = stagePtr(value)
		case "music_task_id":
			p.MusicTaskID = value.(string)
		case "final_video_url":
			p.FinalVideoURL = value.(string)
		}
	}
	for key := range unset {
		switch key {
		case "step_3_status":
			p.Step3Status = nil
		case "step_4_status":
			p.Step4Status = nil
		case "step_5_status":
			p.Step5Status = nil
		}
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memProjectRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		now := time.Now()
		p.DeletedAt = &now
	}
	return nil
}

func stagePtr(value interface{}) *agent.StageStatus {
	s := value.(agent.StageStatus)
	return &s
}

// ---- 角色仓库 ----

type memCharacterRepo struct {
	mu   sync.Mutex
	rows []*agent.Character
	seq  int
}

func newMemCharacterRepo() *memCharacterRepo { return &memCharacterRepo{} }

func (r *memCharacterRepo) Create(ctx context.Context, character *agent.Character) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProjectID == character.ProjectID &&
			strings.EqualFold(row.CharacterName, character.CharacterName) {
			return errors.New("E11000 duplicate key error")
		}
	}
	r.seq++
	character.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	character.UpdatedAt = character.CreatedAt
	r.rows = append(r.rows, character)
	return nil
}

// insert 绕过唯一约束直接插入（构造并发竞争产生的同名记录）
func (r *memCharacterRepo) insert(character *agent.Character) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if character.CreatedAt.IsZero() {
		character.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	}
	r.rows = append(r.rows, character)
}

func (r *memCharacterRepo) FindByID(ctx context.Context, id string) (*agent.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			clone := *row
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memCharacterRepo) FindByProjectID(ctx context.Context, projectID string) ([]*agent.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var characters []*agent.Character
	for _, row := range r.rows {
		if row.ProjectID == projectID {
			clone := *row
			characters = append(characters, &clone)
		}
	}
	sort.Slice(characters, func(i, j int) bool { return characters[i].CreatedAt.Before(characters[j].CreatedAt) })
	return characters, nil
}

func (r *memCharacterRepo) FindByName(ctx context.Context, projectID, name string) (*agent.Character, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProjectID == projectID && strings.EqualFold(row.CharacterName, name) {
			clone := *row
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memCharacterRepo) Update(ctx context.Context, id string, updates bson.M) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID != id {
			continue
		}
		for key, value := range updates {
			switch key {
			case "character_name":
				row.CharacterName = value.(string)
			case "source":
				row.Source = value.(agent.CharacterSource)
			case "template_id":
				row.TemplateID = value.(string)
			case "generation_prompt":
				row.GenerationPrompt = value.(string)
			case "negative_prompt":
				row.NegativePrompt = value.(string)
			case "reference_images":
				row.ReferenceImages = value.([]agent.ReferenceImage)
			}
		}
		row.UpdatedAt = time.Now()
		return nil
	}
	return nil
}

func (r *memCharacterRepo) DeleteByIDs(ctx context.Context, projectID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var kept []*agent.Character
	var removed int64
	for _, row := range r.rows {
		if row.ProjectID == projectID && idSet[row.ID] {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return removed, nil
}

func (r *memCharacterRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*agent.Character
	for _, row := range r.rows {
		if row.ProjectID != projectID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// ---- 分镜图仓库 ----

type memStoryboardRepo struct {
	mu   sync.Mutex
	rows []*agent.Storyboard
}

func newMemStoryboardRepo() *memStoryboardRepo { return &memStoryboardRepo{} }

func (r *memStoryboardRepo) insert(sb *agent.Storyboard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sb.UpdatedAt.IsZero() {
		sb.UpdatedAt = time.Now()
	}
	r.rows = append(r.rows, sb)
}

func (r *memStoryboardRepo) current(projectID string, shotNumber int) *agent.Storyboard {
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == shotNumber && row.IsCurrent {
			return row
		}
	}
	return nil
}

func (r *memStoryboardRepo) Claim(ctx context.Context, placeholder *agent.Storyboard, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()

	row := r.current(placeholder.ProjectID, placeholder.ShotNumber)
	if row == nil {
		placeholder.Status = agent.StoryboardStatusGenerating
		placeholder.IsCurrent = true
		placeholder.GenerationAttempts = 1
		placeholder.CreatedAt = now
		placeholder.UpdatedAt = now
		r.rows = append(r.rows, placeholder)
		return true, nil
	}

	claimable := row.Status == agent.StoryboardStatusFailed ||
		row.Status == agent.StoryboardStatusOutdated ||
		(row.Status == agent.StoryboardStatusGenerating && row.UpdatedAt.Before(staleBefore))
	if !claimable {
		return false, nil
	}
	row.Status = agent.StoryboardStatusGenerating
	row.ErrorMessage = ""
	row.GenerationAttempts++
	row.UpdatedAt = now
	return true, nil
}

func (r *memStoryboardRepo) FindCurrentByProject(ctx context.Context, projectID string) ([]*agent.Storyboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var storyboards []*agent.Storyboard
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.IsCurrent {
			clone := *row
			storyboards = append(storyboards, &clone)
		}
	}
	sort.Slice(storyboards, func(i, j int) bool { return storyboards[i].ShotNumber < storyboards[j].ShotNumber })
	return storyboards, nil
}

func (r *memStoryboardRepo) FindCurrent(ctx context.Context, projectID string, shotNumber int) (*agent.Storyboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.current(projectID, shotNumber); row != nil {
		clone := *row
		return &clone, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memStoryboardRepo) MarkSuccess(ctx context.Context, projectID string, shotNumber int, imageURL, externalURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.current(projectID, shotNumber); row != nil {
		row.Status = agent.StoryboardStatusSuccess
		row.ImageURL = imageURL
		row.ImageURLExternal = externalURL
		row.ErrorMessage = ""
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memStoryboardRepo) MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.current(projectID, shotNumber); row != nil {
		row.Status = agent.StoryboardStatusFailed
		row.ErrorMessage = errorMessage
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memStoryboardRepo) MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	shotSet := make(map[int]bool, len(shotNumbers))
	for _, n := range shotNumbers {
		shotSet[n] = true
	}
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.IsCurrent && shotSet[row.ShotNumber] &&
			row.Status == agent.StoryboardStatusSuccess {
			row.Status = agent.StoryboardStatusOutdated
			row.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *memStoryboardRepo) Supersede(ctx context.Context, projectID string, shotNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == shotNumber && row.IsCurrent {
			row.IsCurrent = false
			row.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *memStoryboardRepo) Rekey(ctx context.Context, projectID string, from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == from {
			row.ShotNumber = to
			row.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *memStoryboardRepo) DeleteByShot(ctx context.Context, projectID string, shotNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*agent.Storyboard
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == shotNumber {
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return nil
}

func (r *memStoryboardRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*agent.Storyboard
	for _, row := range r.rows {
		if row.ProjectID != projectID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// ---- 视频片段仓库 ----

type memClipRepo struct {
	mu   sync.Mutex
	rows []*agent.VideoClip
}

func newMemClipRepo() *memClipRepo { return &memClipRepo{} }

func (r *memClipRepo) insert(clip *agent.VideoClip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clip.UpdatedAt.IsZero() {
		clip.UpdatedAt = time.Now()
	}
	r.rows = append(r.rows, clip)
}

func (r *memClipRepo) find(projectID string, shotNumber int) *agent.VideoClip {
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == shotNumber {
			return row
		}
	}
	return nil
}

func (r *memClipRepo) Claim(ctx context.Context, placeholder *agent.VideoClip, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()

	row := r.find(placeholder.ProjectID, placeholder.ShotNumber)
	if row == nil {
		placeholder.Status = agent.ClipStatusGenerating
		placeholder.RetryCount = 1
		placeholder.CreatedAt = now
		placeholder.UpdatedAt = now
		r.rows = append(r.rows, placeholder)
		return true, nil
	}

	claimable := row.Status == agent.ClipStatusIdle ||
		row.Status == agent.ClipStatusFailed ||
		row.Status == agent.ClipStatusOutdated ||
		(row.Status == agent.ClipStatusGenerating && row.UpdatedAt.Before(staleBefore))
	if !claimable {
		return false, nil
	}
	row.Status = agent.ClipStatusGenerating
	row.ErrorMessage = ""
	row.VideoTaskID = ""
	row.RenderRequestID = ""
	row.RetryCount++
	row.UpdatedAt = now
	return true, nil
}

func (r *memClipRepo) FindByProjectID(ctx context.Context, projectID string) ([]*agent.VideoClip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var clips []*agent.VideoClip
	for _, row := range r.rows {
		if row.ProjectID == projectID {
			clone := *row
			clips = append(clips, &clone)
		}
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].ShotNumber < clips[j].ShotNumber })
	return clips, nil
}

func (r *memClipRepo) FindByShot(ctx context.Context, projectID string, shotNumber int) (*agent.VideoClip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.find(projectID, shotNumber); row != nil {
		clone := *row
		return &clone, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (r *memClipRepo) Update(ctx context.Context, projectID string, shotNumber int, updates bson.M) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(projectID, shotNumber)
	if row == nil {
		return nil
	}
	for key, value := range updates {
		switch key {
		case "status":
			row.Status = value.(agent.ClipStatus)
		case "video_task_id":
			row.VideoTaskID = value.(string)
		case "render_request_id":
			row.RenderRequestID = value.(string)
		}
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *memClipRepo) MarkSuccess(ctx context.Context, projectID string, shotNumber int, videoURL, lastFrameURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.find(projectID, shotNumber); row != nil {
		row.Status = agent.ClipStatusSuccess
		row.VideoURL = videoURL
		row.LastFrameURL = lastFrameURL
		row.ErrorMessage = ""
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memClipRepo) MarkFailed(ctx context.Context, projectID string, shotNumber int, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.find(projectID, shotNumber); row != nil {
		row.Status = agent.ClipStatusFailed
		row.ErrorMessage = errorMessage
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memClipRepo) MarkAllOutdated(ctx context.Context, projectID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var modified int64
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.Status == agent.ClipStatusSuccess {
			row.Status = agent.ClipStatusOutdated
			row.UpdatedAt = time.Now()
			modified++
		}
	}
	return modified, nil
}

func (r *memClipRepo) MarkOutdatedByShots(ctx context.Context, projectID string, shotNumbers []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	shotSet := make(map[int]bool, len(shotNumbers))
	for _, n := range shotNumbers {
		shotSet[n] = true
	}
	for _, row := range r.rows {
		if row.ProjectID == projectID && shotSet[row.ShotNumber] && row.Status == agent.ClipStatusSuccess {
			row.Status = agent.ClipStatusOutdated
			row.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *memClipRepo) Rekey(ctx context.Context, projectID string, from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.find(projectID, from); row != nil {
		row.ShotNumber = to
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memClipRepo) DeleteByShot(ctx context.Context, projectID string, shotNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*agent.VideoClip
	for _, row := range r.rows {
		if row.ProjectID == projectID && row.ShotNumber == shotNumber {
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return nil
}

func (r *memClipRepo) DeleteByProjectID(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*agent.VideoClip
	for _, row := range r.rows {
		if row.ProjectID != projectID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// ---- 后端与依赖 ----

type fakeAnalyzer struct {
	analysis *agent.ScriptAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, script string, targetDuration float64) (*agent.ScriptAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.analysis
	return &clone, nil
}

type fakeImageBackend struct {
	mu         sync.Mutex
	prompts    []string
	failSubstr string
}

func (f *fakeImageBackend) GenerateImage(ctx context.Context, prompt string, size string) ([]byte, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.failSubstr != "" && strings.Contains(prompt, f.failSubstr) {
		return nil, errors.New("image backend error")
	}
	return []byte("png-bytes"), nil
}

func (f *fakeImageBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeVideoBackend 可编排的视频后端
// failSubstr / sensitiveSubstr / noFrameSubstr 按提示词子串匹配注入故障；
// pollSensitiveSubstr 让提交成功但轮询返回内容审核拦截的终态失败
type fakeVideoBackend struct {
	mu                  sync.Mutex
	submissions         []*seedance.SubmitRequest
	results             map[string]*seedance.TaskResult
	failSubstr          string
	sensitiveSubstr     string
	noFrameSubstr       string
	pollSensitiveSubstr string
	release             chan struct{} // 非 nil 时 WaitForTask 阻塞至关闭
	seq                 int
}

func newFakeVideoBackend() *fakeVideoBackend {
	return &fakeVideoBackend{results: make(map[string]*seedance.TaskResult)}
}

func (f *fakeVideoBackend) SubmitTask(ctx context.Context, req *seedance.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sensitiveSubstr != "" && strings.Contains(req.Prompt, f.sensitiveSubstr) {
		return "", fmt.Errorf("submit task: %w", seedance.ErrSensitiveContent)
	}

	f.seq++
	taskID := fmt.Sprintf("task-%d", f.seq)
	f.submissions = append(f.submissions, req)

	result := &seedance.TaskResult{
		Status:       "succeeded",
		VideoURL:     "https://videos.test/" + taskID + ".mp4",
		LastFrameURL: "https://frames.test/" + taskID + ".png",
	}
	if f.failSubstr != "" && strings.Contains(req.Prompt, f.failSubstr) {
		result = &seedance.TaskResult{Status: "failed", ErrorMessage: "render error"}
	}
	if f.pollSensitiveSubstr != "" && strings.Contains(req.Prompt, f.pollSensitiveSubstr) {
		result = &seedance.TaskResult{
			Status:       "failed",
			ErrorMessage: seedance.ErrSensitiveContent.Error(),
			Sensitive:    true,
		}
	}
	if f.noFrameSubstr != "" && strings.Contains(req.Prompt, f.noFrameSubstr) {
		result.LastFrameURL = ""
	}
	f.results[taskID] = result
	return taskID, nil
}

func (f *fakeVideoBackend) GetTask(ctx context.Context, taskID string) (*seedance.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[taskID]
	if !ok {
		return nil, errors.New("task not found")
	}
	return result, nil
}

func (f *fakeVideoBackend) WaitForTask(ctx context.Context, taskID string, pollInterval, maxWait time.Duration) (*seedance.TaskResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.GetTask(ctx, taskID)
}

func (f *fakeVideoBackend) Download(ctx context.Context, url string) ([]byte, error) {
	return []byte("mp4-bytes"), nil
}

func (f *fakeVideoBackend) setResult(taskID string, result *seedance.TaskResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[taskID] = result
}

func (f *fakeVideoBackend) submitted() []*seedance.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*seedance.SubmitRequest(nil), f.submissions...)
}

type fakeMusicBackend struct {
	mu        sync.Mutex
	generated []string
	result    *suno.TaskResult
}

func (f *fakeMusicBackend) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, prompt)
	return "music-task-1", nil
}

func (f *fakeMusicBackend) GetTask(ctx context.Context, taskID string) (*suno.TaskResult, error) {
	if f.result == nil {
		return &suno.TaskResult{Status: "running"}, nil
	}
	return f.result, nil
}

func (f *fakeMusicBackend) Download(ctx context.Context, audioURL string) ([]byte, error) {
	return []byte("mp3-bytes"), nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Unlock(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func (f *fakeLocker) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{files: make(map[string][]byte)} }

func (s *memStorage) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.files[key] = content
	s.mu.Unlock()
	return "https://cdn.test/" + key, nil
}

func (s *memStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(string(content))), nil
}

func (s *memStorage) GetPresignedUploadURL(ctx context.Context, key string, contentType string, expiresIn time.Duration) (string, error) {
	return "https://cdn.test/upload/" + key, nil
}

func (s *memStorage) GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[key]
	return ok, nil
}

func (s *memStorage) GetFileInfo(ctx context.Context, key string) (*storage.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &storage.FileInfo{Key: key, Size: int64(len(content))}, nil
}

func (s *memStorage) GetStorageType() string { return "memory" }

type denyCredits struct{}

func (denyCredits) Reserve(ctx context.Context, userID string, amount int) error {
	return ErrInsufficientCredits
}

// ---- 测试环境 ----

type testEnv struct {
	svc         *service
	projects    *memProjectRepo
	characters  *memCharacterRepo
	storyboards *memStoryboardRepo
	clips       *memClipRepo
	image       *fakeImageBackend
	video       *fakeVideoBackend
	music       *fakeMusicBackend
	locker      *fakeLocker
	store       *memStorage
}

func testGenerateConfig() *config.GenerateConfig {
	return &config.GenerateConfig{
		Concurrency:     3,
		StalenessWindow: 10 * time.Minute,
		PollInterval:    time.Millisecond,
		PollMaxWait:     time.Second,
		MinClipDuration: 2,
		MaxClipDuration: 12,
		CreditsPerClip:  10,
		CreditsPerImage: 5,
	}
}

func newTestEnv() *testEnv {
	env := &testEnv{
		projects:    newMemProjectRepo(),
		characters:  newMemCharacterRepo(),
		storyboards: newMemStoryboardRepo(),
		clips:       newMemClipRepo(),
		image:       &fakeImageBackend{},
		video:       newFakeVideoBackend(),
		music:       &fakeMusicBackend{},
		locker:      newFakeLocker(),
		store:       newMemStorage(),
	}
	env.svc = newServiceWithRepos(env.projects, env.characters, env.storyboards, env.clips, &Deps{
		Analyzer:     &fakeAnalyzer{},
		ImageBackend: env.image,
		VideoBackend: env.video,
		MusicBackend: env.music,
		Locker:       env.locker,
		Storage:      env.store,
		Generate:     testGenerateConfig(),
	})
	return env
}

// seedProject 插入一个已完成脚本分析的项目
// 分镜描述为 "shot-N scene"，便于按子串注入后端故障
func (e *testEnv) seedProject(projectID string, durations []float64, characters ...string) *agent.Project {
	shots := make([]agent.Shot, len(durations))
	total := 0.0
	for i, d := range durations {
		start := total
		total += d
		shots[i] = agent.Shot{
			ShotNumber:      i + 1,
			TimeRange:       fmt.Sprintf("%.1f-%.1fs", start, total),
			DurationSeconds: d,
			Description:     fmt.Sprintf("shot-%d scene", i+1),
			Characters:      characters,
		}
	}
	step1 := agent.StageStatusCompleted
	project := &agent.Project{
		ID:          projectID,
		UserID:      testUserID,
		Title:       "测试项目",
		Status:      agent.ProjectStatusProcessing,
		CurrentStep: 1,
		Script:      "原始脚本",
		AspectRatio: "9:16",
		Step1Status: &step1,
		ScriptAnalysis: &agent.ScriptAnalysis{
			Duration:   total,
			ShotCount:  len(shots),
			StoryStyle: "国风动画",
			Shots:      shots,
			Characters: append([]string(nil), characters...),
		},
	}
	_ = e.projects.Create(context.Background(), project)
	return project
}

// seedStoryboards 为项目的全部分镜插入 success 分镜图
func (e *testEnv) seedStoryboards(projectID string, shotCount int) {
	for n := 1; n <= shotCount; n++ {
		e.storyboards.insert(&agent.Storyboard{
			ID:         fmt.Sprintf("sb-%d", n),
			ProjectID:  projectID,
			ShotNumber: n,
			ImageURL:   fmt.Sprintf("https://cdn.test/sb-%d.png", n),
			Status:     agent.StoryboardStatusSuccess,
			IsCurrent:  true,
		})
	}
}

// waitUntil 轮询等待后台派发完成
func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
