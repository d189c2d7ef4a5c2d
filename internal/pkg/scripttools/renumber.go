package scripttools

import (
	"errors"
	"fmt"

	"mango/internal/model/agent"
)

// ErrLastShot 项目必须至少保留一个分镜，不允许删除最后一个
var ErrLastShot = errors.New("cannot delete the last shot")

// ErrShotNotFound 指定的分镜编号不存在
var ErrShotNotFound = errors.New("shot not found")

// DeleteResult 分镜删除与重编号的结果
type DeleteResult struct {
	Shots      []agent.Shot // 重编号后的分镜列表（1..N 连续）
	Characters []string     // 重新提取的去重角色列表
}

// FormatTimeRange 格式化时间范围为 "{start}-{end}s"（半开区间，秒，保留一位小数）
func FormatTimeRange(start, end float64) string {
	return fmt.Sprintf("%.1f-%.1fs", start, end)
}

// RecomputeTimeRanges 按各分镜时长的前缀和重新推导 time_range
// 第 i 个分镜的起点等于第 i-1 个分镜的终点，首个分镜从 0 开始
func RecomputeTimeRanges(shots []agent.Shot) {
	start := 0.0
	for i := range shots {
		end := start + shots[i].DurationSeconds
		shots[i].TimeRange = FormatTimeRange(start, end)
		start = end
	}
}

// TotalDuration 返回所有分镜时长之和
func TotalDuration(shots []agent.Shot) float64 {
	var total float64
	for _, shot := range shots {
		total += shot.DurationSeconds
	}
	return total
}

// DeleteShot 从有序分镜列表中删除指定编号的分镜
// 结果满足：目标分镜被移除；剩余分镜按原相对顺序重编号为 1..N；
// time_range 从 0 开始按时长前缀和重新计算；角色列表为剩余分镜角色的去重并集
func DeleteShot(shots []agent.Shot, shotNumber int) (*DeleteResult, error) {
	if shotNumber < 1 {
		return nil, fmt.Errorf("invalid shot number %d: %w", shotNumber, ErrShotNotFound)
	}

	found := false
	for _, shot := range shots {
		if shot.ShotNumber == shotNumber {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("shot %d: %w", shotNumber, ErrShotNotFound)
	}

	if len(shots) == 1 {
		return nil, ErrLastShot
	}

	remaining := make([]agent.Shot, 0, len(shots)-1)
	for _, shot := range shots {
		if shot.ShotNumber == shotNumber {
			continue
		}
		remaining = append(remaining, shot)
	}

	for i := range remaining {
		remaining[i].ShotNumber = i + 1
	}
	RecomputeTimeRanges(remaining)

	return &DeleteResult{
		Shots:      remaining,
		Characters: ExtractCharacters(remaining),
	}, nil
}
