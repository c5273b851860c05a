package api

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// buildContentDisposition 附件下载头：ASCII 回退名 + RFC 5987 编码的原始文件名
func buildContentDisposition(filename string) string {
	fallback := strings.Map(func(r rune) rune {
		switch {
		case r > unicode.MaxASCII || unicode.IsControl(r):
			return '_'
		case r == '"' || r == '\\':
			return '_'
		}
		return r
	}, filename)
	if fallback == filename {
		return fmt.Sprintf("attachment; filename=\"%s\"", filename)
	}
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", fallback, url.PathEscape(filename))
}
