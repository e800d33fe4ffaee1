package prompts

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout 与研究报告中出现的日期格式一致，例如 "Mon Jan 2, 2006"
const DateLayout = "Mon Jan 2, 2006"

// templateVarRegexp 匹配模板变量 {{variable}} 或 {{ variable }}
var templateVarRegexp = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.-]*)\s*\}\}`)

// FormatDate 按 DateLayout 格式化日期
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today 返回今天的日期字符串
func Today() string {
	return FormatDate(time.Now())
}

// Render 替换 text 中的模板变量。未提供值的变量保留原样。
func Render(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return templateVarRegexp.ReplaceAllStringFunc(text, func(match string) string {
		submatch := templateVarRegexp.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val, ok := vars[submatch[1]]; ok {
			return val
		}
		return match
	})
}

// Variables 返回 text 中出现的模板变量名（去重，按出现顺序）
func Variables(text string) []string {
	matches := templateVarRegexp.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var vars []string
	for _, m := range matches {
		v := strings.TrimSpace(m[1])
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		vars = append(vars, v)
	}
	return vars
}
