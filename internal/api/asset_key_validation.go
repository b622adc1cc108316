package api

import (
	"strings"
	"unicode/utf8"
)

const assetKeyPrefix = "assets/"

// isValidAssetObjectKey 校验资产对象键：必须落在 assets/ 前缀下、
// 无路径穿越、带受支持的图片扩展名。
func isValidAssetObjectKey(key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, assetKeyPrefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > 200 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(key))
	if !(strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".webp")) {
		return false
	}
	return true
}
