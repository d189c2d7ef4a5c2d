package seedance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	defaultModel   = "doubao-seedance-1-0-lite-i2v-250428"
)

// ErrSensitiveContent 后端内容审核拒绝（输入或输出命中敏感内容）
// 调用方据此给出明确的失败原因，而不是笼统的生成失败
var ErrSensitiveContent = errors.New("content rejected by moderation")

// Config Seedance 视频生成配置
type Config struct {
	APIKey  string // API Key（必需）
	BaseURL string // API 基础 URL（可选）
	Model   string // 模型名称（可选）
}

// Client Seedance 视频生成客户端（image-to-video，异步任务型 API）
// 提交与查询拆分为独立方法，由调用方驱动轮询；
// 链式生成依赖 return_last_frame 返回的末尾帧
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient 创建 Seedance 客户端
func NewClient(config *Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("seedance api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}

	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		model:      config.Model,
	}, nil
}

// SubmitRequest 视频生成任务参数
type SubmitRequest struct {
	Prompt          string // 视频生成提示词
	FirstFrameURL   string // 首帧图片 URL（分镜图或前序片段末尾帧）
	Duration        int    // 时长（秒）
	Ratio           string // 画面比例，如 "9:16" / "16:9"
	Seed            *int64 // 随机种子（可选）
	ReturnLastFrame bool   // 是否返回末尾帧（链式生成需要）
}

// TaskResult 任务查询结果
type TaskResult struct {
	Status       string // queued / running / succeeded / failed 等后端状态
	VideoURL     string // 视频 URL（成功时）
	LastFrameURL string // 末尾帧 URL（请求了 return_last_frame 时）
	ErrorMessage string // 失败原因（失败时）
	Sensitive    bool   // 失败原因是否为内容审核拦截
}

// Done 任务是否已到达终态
func (r *TaskResult) Done() bool {
	return r.Succeeded() || r.Failed()
}

// Succeeded 任务是否成功
func (r *TaskResult) Succeeded() bool {
	return r.Status == "succeeded" || r.Status == "completed"
}

// Failed 任务是否失败
func (r *TaskResult) Failed() bool {
	return r.Status == "failed" || r.Status == "cancelled" || r.Status == "expired"
}

// SubmitTask 提交视频生成任务，返回任务ID
func (c *Client) SubmitTask(ctx context.Context, req *SubmitRequest) (string, error) {
	// 时长、种子等参数通过文本命令拼接在提示词末尾
	text := req.Prompt
	text += fmt.Sprintf(" --ratio %s --duration %d", req.Ratio, req.Duration)
	if req.Seed != nil {
		text += fmt.Sprintf(" --seed %d", *req.Seed)
	}

	content := []map[string]interface{}{
		{"type": "text", "text": text},
	}
	if req.FirstFrameURL != "" {
		content = append(content, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": req.FirstFrameURL,
			},
			"role": "first_frame",
		})
	}

	requestBody := map[string]interface{}{
		"model":             c.model,
		"content":           content,
		"return_last_frame": req.ReturnLastFrame,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/contents/generations/tasks", c.baseURL)

	log.Debug().
		Str("api_url", apiURL).
		Str("model", c.model).
		Int("duration", req.Duration).
		Bool("return_last_frame", req.ReturnLastFrame).
		Msg("创建视频生成任务")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("提交视频生成任务失败")
		if isSensitiveContentBody(body) {
			return "", fmt.Errorf("submit task: %w", ErrSensitiveContent)
		}
		return "", fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.ID == "" {
		return "", fmt.Errorf("task ID is empty in response")
	}

	return apiResp.ID, nil
}

// GetTask 查询任务状态与结果
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskResult, error) {
	apiURL := fmt.Sprintf("%s/contents/generations/tasks/%s", c.baseURL, taskID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Status  string `json:"status"`
		Content struct {
			VideoURL     string `json:"video_url"`
			LastFrameURL string `json:"last_frame_url"`
		} `json:"content"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &TaskResult{
		Status:       apiResp.Status,
		VideoURL:     apiResp.Content.VideoURL,
		LastFrameURL: apiResp.Content.LastFrameURL,
		ErrorMessage: apiResp.Error.Message,
	}
	if result.Failed() && isSensitiveCode(apiResp.Error.Code) {
		result.Sensitive = true
		result.ErrorMessage = ErrSensitiveContent.Error()
	}
	return result, nil
}

// WaitForTask 轮询等待任务到达终态
func (c *Client) WaitForTask(ctx context.Context, taskID string, pollInterval, maxWait time.Duration) (*TaskResult, error) {
	startTime := time.Now()
	for {
		if time.Since(startTime) > maxWait {
			return nil, fmt.Errorf("video generation timeout after %v: task_id=%s", maxWait, taskID)
		}

		result, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		if result.Done() {
			return result, nil
		}

		log.Debug().Str("task_id", taskID).Str("status", result.Status).Msg("视频生成中，继续等待")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Download 下载生成的视频数据（合成阶段使用）
func (c *Client) Download(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download video: status code %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// isSensitiveCode 识别内容审核相关的错误码
func isSensitiveCode(code string) bool {
	return strings.Contains(code, "SensitiveContent")
}

func isSensitiveContentBody(body []byte) bool {
	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	return isSensitiveCode(errResp.Error.Code)
}
