package scripttools

import (
	"sort"
	"strings"

	"mango/internal/model/agent"
)

// NormalizeName 规范化角色名：去除首尾空白，内部连续空白折叠为单个空格
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// EqualNames 判断两个角色名在规范化后是否大小写不敏感相等
func EqualNames(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}

// ExtractCharacters 从分镜列表中提取去重后的角色名列表
// 去重按大小写不敏感比较，保留首次出现的拼写，结果按字典序排序
func ExtractCharacters(shots []agent.Shot) []string {
	seen := make(map[string]string)
	for _, shot := range shots {
		for _, name := range shot.Characters {
			normalized := NormalizeName(name)
			if normalized == "" {
				continue
			}
			key := strings.ToLower(normalized)
			if _, ok := seen[key]; !ok {
				seen[key] = normalized
			}
		}
	}

	characters := make([]string, 0, len(seen))
	for _, name := range seen {
		characters = append(characters, name)
	}
	sort.Strings(characters)
	return characters
}

// ContainsName 判断角色名列表中是否包含指定名称（大小写不敏感）
func ContainsName(names []string, name string) bool {
	for _, n := range names {
		if EqualNames(n, name) {
			return true
		}
	}
	return false
}

// DiffNames 返回在 old 中存在但在 new 中不存在的角色名（大小写不敏感）
func DiffNames(old, new []string) []string {
	var removed []string
	for _, name := range old {
		if !ContainsName(new, name) {
			removed = append(removed, name)
		}
	}
	return removed
}
