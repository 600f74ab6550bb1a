package render

import (
	"strings"
)

// Wifi WIFI: 配置串中的字段
type Wifi struct {
	SSID     string
	Security string // WPA / WEP / nopass
	Password string
	Hidden   bool
}

// isWifi 是否以 WIFI: 开头（大小写不敏感）
func isWifi(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "WIFI:")
}

// ParseWifi 解析 WIFI:T:WPA;S:name;P:pass;H:false;;
// 字段值中的 \; \, \: \\ 为转义
func ParseWifi(s string) Wifi {
	var w Wifi
	if !isWifi(s) {
		return w
	}
	for _, field := range splitEscaped(s[5:]) {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		value = unescapeWifi(value)
		switch strings.ToUpper(key) {
		case "S":
			w.SSID = value
		case "T":
			w.Security = value
		case "P":
			w.Password = value
		case "H":
			w.Hidden = strings.EqualFold(value, "true")
		}
	}
	return w
}

// splitEscaped 按未转义的 ; 切分
func splitEscaped(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ';':
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
			}
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func unescapeWifi(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
