package render

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var errMalformedDataURI = errors.New("data URI 格式错误")

// dataURI data:[<mediatype>][;base64],<data>
type dataURI struct {
	MediaType string // 小写，不含参数
	Data      []byte
}

// hasDataPrefix 目标是否是指定媒体类型的 data URI（大小写不敏感）
func hasDataPrefix(s string, mediaTypes ...string) bool {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return false
	}
	rest := strings.ToLower(s[5:])
	for _, mt := range mediaTypes {
		if strings.HasPrefix(rest, mt) {
			tail := rest[len(mt):]
			if tail == "" || tail[0] == ';' || tail[0] == ',' {
				return true
			}
		}
	}
	return false
}

// parseDataURI 解码 data URI；非 base64 的内容按百分号编码处理
func parseDataURI(s string) (*dataURI, error) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return nil, errMalformedDataURI
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, errMalformedDataURI
	}
	header, payload := s[5:comma], s[comma+1:]

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if isBase64 {
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, err
		}
		return &dataURI{MediaType: mediaType, Data: data}, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		// 存量数据里有未编码的 %，原样返回
		text = payload
	}
	return &dataURI{MediaType: mediaType, Data: []byte(text)}, nil
}

// decodeBase64 兼容标准/URL 安全字母表，以及缺失填充、夹带空白或百分号编码的情况
func decodeBase64(payload string) ([]byte, error) {
	if unescaped, err := url.PathUnescape(payload); err == nil {
		payload = unescaped
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	trimmed := strings.TrimRight(payload, "=")
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(trimmed); err == nil {
			return data, nil
		}
	}
	return nil, errMalformedDataURI
}
