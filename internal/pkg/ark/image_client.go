package ark

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

const (
	defaultBaseURL    = "https://ark.cn-beijing.volces.com/api/v3"
	defaultImageModel = "doubao-seedream-3-0-t2i-250415"
)

// ImageConfig Ark 图片生成配置
type ImageConfig struct {
	APIKey  string // API Key（必需）
	BaseURL string // API 基础 URL（可选，默认: https://ark.cn-beijing.volces.com/api/v3）
	Model   string // 模型名称（可选，默认: doubao-seedream-3-0-t2i-250415）
}

// ImageClient Ark 图片生成客户端
// 用于调用火山引擎的 Ark API 生成分镜图与角色参考图
type ImageClient struct {
	client *arkruntime.Client
	model  string
}

// NewImageClient 创建 Ark 图片生成客户端
func NewImageClient(config *ImageConfig) (*ImageClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ark api key is required")
	}
	if config.Model == "" {
		config.Model = defaultImageModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	arkClient := arkruntime.NewClientWithApiKey(config.APIKey, arkruntime.WithBaseUrl(config.BaseURL))

	return &ImageClient{
		client: arkClient,
		model:  config.Model,
	}, nil
}

// GenerateImage 生成图片（同步接口）
// size 形如 "720x1280"（9:16）或 "1280x720"（16:9）
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string, size string) ([]byte, error) {
	if size == "" {
		size = "720x1280"
	}

	responseFormat := "b64_json"
	watermark := false

	input := model.GenerateImagesRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           &size,
		ResponseFormat: &responseFormat,
		Watermark:      &watermark,
	}

	output, err := c.client.GenerateImages(ctx, input)
	if err != nil {
		log.Error().Err(err).Msg("failed to call Ark GenerateImages API")
		return nil, fmt.Errorf("ark GenerateImages API call failed: %w", err)
	}

	if len(output.Data) == 0 {
		return nil, fmt.Errorf("no image data in response")
	}

	firstImage := output.Data[0]
	if firstImage.B64Json == nil {
		return nil, fmt.Errorf("no b64_json in response data")
	}

	imageData, err := base64.StdEncoding.DecodeString(*firstImage.B64Json)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image data: %w", err)
	}

	return imageData, nil
}

// SizeForAspectRatio 根据画面比例选择生成尺寸
func SizeForAspectRatio(aspectRatio string) string {
	if aspectRatio == "16:9" {
		return "1280x720"
	}
	return "720x1280"
}
