package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"mango/internal/model/agent"
	"mango/internal/pkg/scripttools"
)

// ScriptAnalyzer 脚本分析器
// 调用 LLM 将自由文本脚本拆解为结构化的分镜列表（ScriptAnalysis）
// LLM 输出只作为草稿：编号、时间范围、角色列表、总时长在边界处统一重算，
// 不信任模型给出的派生字段
type ScriptAnalyzer struct {
	chatModel model.ChatModel
}

// NewScriptAnalyzer 创建脚本分析器
func NewScriptAnalyzer(chatModel model.ChatModel) *ScriptAnalyzer {
	return &ScriptAnalyzer{chatModel: chatModel}
}

// Analyze 分析脚本文本，返回校验和规范化后的结果
func (a *ScriptAnalyzer) Analyze(ctx context.Context, script string, targetDuration float64) (*agent.ScriptAnalysis, error) {
	if a.chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("script is empty")
	}

	prompt := buildAnalysisPrompt(script, targetDuration)

	response, err := a.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return nil, fmt.Errorf("failed to generate analysis: %w", err)
	}
	if response.Content == "" {
		return nil, fmt.Errorf("empty response from chat model")
	}

	var analysis agent.ScriptAnalysis
	if err := json.Unmarshal([]byte(cleanJSONContent(response.Content)), &analysis); err != nil {
		log.Error().Err(err).Str("content", truncate(response.Content, 500)).Msg("脚本分析结果不是有效 JSON")
		return nil, fmt.Errorf("parse analysis JSON: %w", err)
	}

	if err := normalizeAnalysis(&analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// normalizeAnalysis 校验并重算派生字段
// 分镜编号重排为 1..N；时间范围按时长前缀和重算；
// 角色列表与总时长、分镜数量均从分镜列表重新推导
func normalizeAnalysis(analysis *agent.ScriptAnalysis) error {
	if len(analysis.Shots) == 0 {
		return fmt.Errorf("analysis contains no shots")
	}

	for i := range analysis.Shots {
		if analysis.Shots[i].DurationSeconds <= 0 {
			return fmt.Errorf("shot %d has non-positive duration", i+1)
		}
		analysis.Shots[i].ShotNumber = i + 1
		for j, name := range analysis.Shots[i].Characters {
			analysis.Shots[i].Characters[j] = scripttools.NormalizeName(name)
		}
	}
	scripttools.RecomputeTimeRanges(analysis.Shots)

	analysis.ShotCount = len(analysis.Shots)
	analysis.Duration = scripttools.TotalDuration(analysis.Shots)
	analysis.Characters = scripttools.ExtractCharacters(analysis.Shots)
	return nil
}

// buildAnalysisPrompt 构建脚本分析提示词
func buildAnalysisPrompt(script string, targetDuration float64) string {
	var b strings.Builder
	b.WriteString("你是短视频导演。把下面的脚本拆解为分镜列表，输出一个 JSON 对象，结构如下：\n\n")
	b.WriteString(`{
  "story_style": "整体风格描述",
  "shots": [
    {
      "shot_number": 1,
      "duration_seconds": 5,
      "description": "场景描述",
      "camera_angle": "镜头角度",
      "character_action": "角色动作",
      "mood": "情绪氛围",
      "video_prompt": "用于视频生成的英文提示词",
      "characters": ["出现的角色名"]
    }
  ]
}`)
	b.WriteString("\n\n要求：\n")
	b.WriteString("1. 输出必须是可直接被 json.Unmarshal 解析的 JSON，不要使用 ```json 或 ``` 等 markdown 标记\n")
	b.WriteString("2. 每个分镜时长 2-12 秒\n")
	b.WriteString("3. characters 中只列出画面中实际出现的角色，名称在全片保持一致\n")
	if targetDuration > 0 {
		b.WriteString(fmt.Sprintf("4. 全片总时长接近 %.0f 秒\n", targetDuration))
	}
	b.WriteString("\n脚本：\n")
	b.WriteString(script)
	return b.String()
}

var markdownFencePattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json)?\s*\n(.*?)\n\s*` + "```" + `\s*$`)

// cleanJSONContent 清理 LLM 返回的 JSON 内容，移除 markdown 代码块标记
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if matches := markdownFencePattern.FindStringSubmatch(content); len(matches) > 1 {
		content = matches[1]
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
