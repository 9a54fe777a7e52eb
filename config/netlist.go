package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NetList 网表一行的字段
type NetList []string

// Fields 拆分一行，'*' 或 ';' 之后为注释
func Fields(line string) NetList {
	if i := strings.IndexAny(line, "*;"); i >= 0 {
		line = line[:i]
	}
	return NetList(strings.Fields(line))
}

// Keyword 第 i 个字段的大写形式，越界为空
func (value NetList) Keyword(i int) string {
	if i < len(value) {
		return strings.ToUpper(value[i])
	}
	return ""
}

// ParseFloat 解析带工程后缀的数值，失败时返回默认值
func (value NetList) ParseFloat(i int, defaultValue float64) float64 {
	if i < len(value) {
		if val, err := ParseValue(value[i]); err == nil {
			return val
		}
	}
	return defaultValue
}

// ParseInt 解析整数
func (value NetList) ParseInt(i int, defaultValue int) int {
	if i < len(value) {
		if val, err := strconv.Atoi(value[i]); err == nil {
			return val
		}
	}
	return defaultValue
}

// Float 必填数值字段
func (value NetList) Float(i int, what string) (float64, error) {
	if i >= len(value) {
		return 0, errors.Errorf("缺少%s", what)
	}
	v, err := ParseValue(value[i])
	if err != nil {
		return 0, errors.Wrapf(err, "%s", what)
	}
	return v, nil
}

// Int 必填整数字段
func (value NetList) Int(i int, what string) (int, error) {
	if i >= len(value) {
		return 0, errors.Errorf("缺少%s", what)
	}
	v, err := strconv.Atoi(value[i])
	if err != nil {
		return 0, errors.Errorf("%s不是整数: %q", what, value[i])
	}
	return v, nil
}

// IsNumber 字段是否为数值
func (value NetList) IsNumber(i int) bool {
	if i >= len(value) {
		return false
	}
	_, err := ParseValue(value[i])
	return err == nil
}

var suffixScale = map[byte]float64{
	'T': 1e12,
	'G': 1e9,
	'K': 1e3,
	'M': 1e-3,
	'U': 1e-6,
	'N': 1e-9,
	'P': 1e-12,
	'F': 1e-15,
}

// ParseValue 解析 SPICE 数值，如 1k、4.7u、2MEG、10pF
// 后缀之后的单位字母被忽略
func ParseValue(s string) (float64, error) {
	n := numberPrefix(s)
	if n == 0 {
		return 0, errors.Errorf("无效数值: %q", s)
	}
	v, err := strconv.ParseFloat(s[:n], 64)
	if err != nil {
		return 0, errors.Errorf("无效数值: %q", s)
	}
	rest := strings.ToUpper(s[n:])
	switch {
	case rest == "":
		return v, nil
	case strings.HasPrefix(rest, "MEG"):
		return v * 1e6, nil
	case strings.HasPrefix(rest, "MIL"):
		return v * 25.4e-6, nil
	}
	if scale, ok := suffixScale[rest[0]]; ok {
		return v * scale, nil
	}
	if rest[0] < 'A' || rest[0] > 'Z' {
		return 0, errors.Errorf("无效数值: %q", s)
	}
	return v, nil
}

// numberPrefix 数值部分的长度
func numberPrefix(s string) int {
	i, digits := 0, false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
		digits = digits || isDigit(s[i])
		i++
	}
	if !digits {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
