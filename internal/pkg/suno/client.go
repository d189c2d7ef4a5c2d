package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultModel = "chirp-v4"

// Config 音乐生成配置
type Config struct {
	APIKey  string // API Key（必需）
	BaseURL string // API 基础 URL（必需）
	Model   string // 模型名称（可选）
}

// Client 背景音乐生成客户端（异步任务型 API）
// 音乐生成与视频流水线并行，结果在合成阶段才被消费
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient 创建音乐生成客户端
func NewClient(config *Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("music api key is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("music base url is required")
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

// Generate 提交音乐生成任务，返回任务ID
// 背景音乐始终为纯音乐（instrumental），避免人声干扰旁白
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"model":        c.model,
		"prompt":       prompt,
		"instrumental": true,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/generate", c.baseURL)

	log.Debug().Str("api_url", apiURL).Str("model", c.model).Msg("创建音乐生成任务")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("提交音乐生成任务失败")
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

// TaskResult 音乐任务查询结果
type TaskResult struct {
	Status   string // queued / running / succeeded / failed
	AudioURL string // 音频 URL（成功时）
}

// Succeeded 任务是否成功
func (r *TaskResult) Succeeded() bool {
	return r.Status == "succeeded" || r.Status == "completed"
}

// GetTask 查询音乐生成任务状态
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskResult, error) {
	apiURL := fmt.Sprintf("%s/tasks/%s", c.baseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Status   string `json:"status"`
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &TaskResult{Status: apiResp.Status, AudioURL: apiResp.AudioURL}, nil
}

// Download 下载生成的音频数据（合成阶段使用）
func (c *Client) Download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status code %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
