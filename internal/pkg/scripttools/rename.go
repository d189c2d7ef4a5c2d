package scripttools

import (
	"regexp"

	"mango/internal/model/agent"
)

// RenameEvent 角色重命名事件
type RenameEvent struct {
	OldName string // 原角色名（规范化后）
	NewName string // 新角色名（规范化后）
}

// namePattern 构建大小写不敏感、词边界锚定的角色名匹配模式
// 角色名先做正则转义，保证 "Ann" 不会命中 "Annabelle" 中的子串。
// \b 只在相邻字节是 ASCII 词字符时成立，名称首尾是标点或中文时
// 不能加边界锚，否则整个模式永远无法匹配
func namePattern(name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	pattern := `(?i)`
	if isWordByte(name[0]) {
		pattern += `\b`
	}
	pattern += quoted
	if isWordByte(name[len(name)-1]) {
		pattern += `\b`
	}
	return regexp.MustCompile(pattern)
}

func isWordByte(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}

// replaceInList 在角色名列表中替换精确匹配（大小写不敏感）的名称并去重
func replaceInList(names []string, oldName, newName string) []string {
	var result []string
	for _, name := range names {
		if EqualNames(name, oldName) {
			name = newName
		}
		if !ContainsName(result, name) {
			result = append(result, name)
		}
	}
	return result
}

// ReplaceCharacterName 将分镜列表中对 oldName 的所有文本引用改写为 newName
// 角色列表按精确名称替换；自由文本字段按词边界模式替换。
// 返回改写后角色列表包含 newName 的分镜编号（受影响的分镜）。
// 对同一 (oldName, newName) 重复执行是幂等的：第二次执行不再有可匹配文本。
func ReplaceCharacterName(shots []agent.Shot, oldName, newName string) []int {
	oldName = NormalizeName(oldName)
	newName = NormalizeName(newName)
	if oldName == "" || newName == "" || EqualNames(oldName, newName) {
		return nil
	}

	pattern := namePattern(oldName)
	var affected []int

	for i := range shots {
		shots[i].Characters = replaceInList(shots[i].Characters, oldName, newName)

		shots[i].Description = pattern.ReplaceAllString(shots[i].Description, newName)
		shots[i].CameraAngle = pattern.ReplaceAllString(shots[i].CameraAngle, newName)
		shots[i].CharacterAction = pattern.ReplaceAllString(shots[i].CharacterAction, newName)
		shots[i].Mood = pattern.ReplaceAllString(shots[i].Mood, newName)
		shots[i].VideoPrompt = pattern.ReplaceAllString(shots[i].VideoPrompt, newName)

		if ContainsName(shots[i].Characters, newName) {
			affected = append(affected, shots[i].ShotNumber)
		}
	}

	return affected
}

// RenameInCharacterList 在项目级角色列表中应用重命名并去重
func RenameInCharacterList(characters []string, oldName, newName string) []string {
	return replaceInList(characters, NormalizeName(oldName), NormalizeName(newName))
}
