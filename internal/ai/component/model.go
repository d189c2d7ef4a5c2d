package component

import (
	"context"
	"fmt"

	arkext "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"mango/internal/config"
)

// NewChatModel 创建脚本分析使用的 ChatModel
// 支持的 Provider: openai, azure, ark
func NewChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	switch cfg.Provider {
	case "openai", "azure", "":
		return newOpenAIChatModel(ctx, cfg)
	case "ark":
		return newArkChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// newOpenAIChatModel 创建 OpenAI / Azure OpenAI ChatModel
func newOpenAIChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	modelCfg := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		ByAzure: cfg.Provider == "azure",
	}
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}
	applyOptions(cfg, &modelCfg.Temperature, &modelCfg.MaxTokens, &modelCfg.TopP)

	return openai.NewChatModel(ctx, modelCfg)
}

// newArkChatModel 创建火山引擎 Ark ChatModel
func newArkChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "doubao-seed-1-6-flash-250615"
	}

	modelCfg := &arkext.ChatModelConfig{
		Model:   modelName,
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
	}
	applyOptions(cfg, &modelCfg.Temperature, &modelCfg.MaxTokens, &modelCfg.TopP)

	return arkext.NewChatModel(ctx, modelCfg)
}

// applyOptions 将配置中的模型参数写入目标字段（零值跳过）
func applyOptions(cfg *config.AIConfig, temperature **float32, maxTokens **int, topP **float32) {
	if cfg.Options.Temperature > 0 {
		t := float32(cfg.Options.Temperature)
		*temperature = &t
	}
	if cfg.Options.MaxTokens > 0 {
		m := cfg.Options.MaxTokens
		*maxTokens = &m
	}
	if cfg.Options.TopP > 0 {
		p := float32(cfg.Options.TopP)
		*topP = &p
	}
}
