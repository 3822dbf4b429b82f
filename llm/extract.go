package llm

import "encoding/json"

const (
	// MaxExtractInput 只在回复的前 64 KiB 内查找 JSON
	MaxExtractInput = 64 << 10
	// maxUnclosedScans 扫到文本末尾仍未闭合的开括号次数上限
	maxUnclosedScans = 32
)

// ExtractJSON 返回文本中第一个括号平衡且合法的 JSON 对象或数组。
//
// 模型回复常在 JSON 前后夹带说明文字或 Markdown 代码块；扫描时会跳过字符串字面量中的
// 括号，平衡但非法的片段（例如 "[注意]"）被跳过，继续向后查找。
// 扫描量有界：超过 MaxExtractInput 的部分被忽略，连续多次扫到末尾仍未闭合时放弃。
func ExtractJSON(text string) (string, bool) {
	if len(text) > MaxExtractInput {
		text = text[:MaxExtractInput]
	}
	unclosed := 0
	for start := 0; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		end, st := matchClose(text, start)
		if st == scanUnclosed {
			if unclosed++; unclosed >= maxUnclosedScans {
				return "", false
			}
			continue
		}
		if st != scanClosed {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

type scanStatus int

const (
	scanClosed scanStatus = iota
	scanMismatch
	scanUnclosed
)

// matchClose 从 text[start] 的开括号出发，返回对应闭括号的下标
func matchClose(text string, start int) (int, scanStatus) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, scanMismatch
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, scanClosed
			}
		}
	}
	return 0, scanUnclosed
}
