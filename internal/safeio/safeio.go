package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Root 将所有写入限制在固定根目录下
type Root struct {
	absRoot string // 绝对路径，已解析符号链接
}

// NewRoot 绑定根目录（解析为绝对且不含符号链接的路径）
func NewRoot(root string) (*Root, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &Root{absRoot: abs}, nil
}

// Path 返回根目录绝对路径
func (r *Root) Path() string {
	if r == nil {
		return ""
	}
	return r.absRoot
}

// Join 将已清洗的相对路径（正斜杠）拼接到根目录下，并做词法检查
func (r *Root) Join(rel string) (string, error) {
	if r == nil {
		return "", errors.New("safeio: root not configured")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("safeio: invalid relative path %q", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("safeio: path traversal not allowed")
	}
	joined := filepath.Join(r.absRoot, clean)
	if !hasPathPrefix(joined, r.absRoot) {
		return "", fmt.Errorf("safeio: outside root (root=%s, path=%s)", r.absRoot, joined)
	}
	return joined, nil
}

// Contains 解析真实路径（含符号链接）后确认仍在根目录内
func (r *Root) Contains(p string) (bool, error) {
	if r == nil {
		return false, errors.New("safeio: root not configured")
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false, err
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return false, err
	}
	return hasPathPrefix(resolved, r.absRoot), nil
}

// Rel 返回根目录下的正斜杠相对路径
func (r *Root) Rel(p string) (string, error) {
	rel, err := filepath.Rel(r.absRoot, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// SanitizeEntryName 清洗压缩包条目名
//
// 去掉 ".."、"."、空段、盘符与前导分隔符；stripped 表示名称被改写过。
// 含 NUL 字节或清洗后为空时返回错误，调用方应跳过该条目。
func SanitizeEntryName(name string) (clean string, stripped bool, err error) {
	if strings.ContainsRune(name, 0) {
		return "", true, errors.New("entry name contains NUL byte")
	}
	normalized := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(normalized, "/") {
		stripped = true
	}
	segments := strings.Split(normalized, "/")
	kept := make([]string, 0, len(segments))
	for i, seg := range segments {
		switch {
		case seg == "" || seg == ".":
			continue
		case seg == "..":
			stripped = true
			continue
		case i == 0 && len(seg) == 2 && seg[1] == ':':
			// Windows 盘符
			stripped = true
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "", true, errors.New("entry name is empty after sanitizing")
	}
	clean = strings.Join(kept, "/")
	if clean == "" || strings.HasPrefix(clean, "/") {
		return "", true, errors.New("entry name is unsafe after sanitizing")
	}
	if runtime.GOOS == "windows" && strings.ContainsAny(clean, `<>:"|?*`) {
		return "", true, errors.New("entry name contains reserved characters")
	}
	return clean, stripped, nil
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if len(root) == 0 {
		return true
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	if !strings.HasSuffix(path, sep) {
		path += sep
	}
	return strings.HasPrefix(path, root)
}
