package importer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"gradebridge/internal/layout"
	"gradebridge/internal/model"
	"gradebridge/internal/safeio"
)

// ExtractOptions 解压选项
type ExtractOptions struct {
	TempDir    string // 临时目录父目录，空表示系统默认
	MaxBytes   int64  // 解压后总字节数上限，0 表示不限制
	MaxEntries int    // 文件条目数上限，0 表示不限制
}

// Entry 解压出的文件
type Entry struct {
	Path    string // 相对压缩包根目录的路径（正斜杠）
	AbsPath string
	Size    int64
}

// Workspace 单次导入的隔离解压目录，Close 删除目录及其下所有文件
type Workspace struct {
	root     *safeio.Root
	dir      string
	Entries  []Entry
	Skipped  []model.SkippedEntry
	Warnings []string
}

// Root 解压根目录
func (w *Workspace) Root() string {
	return w.root.Path()
}

// SafeRoot 解压根目录的路径约束
func (w *Workspace) SafeRoot() *safeio.Root {
	return w.root
}

// Close 删除临时目录
func (w *Workspace) Close() error {
	if w == nil || w.dir == "" {
		return nil
	}
	return os.RemoveAll(w.dir)
}

func (w *Workspace) skip(name, reason string) {
	w.Skipped = append(w.Skipped, model.SkippedEntry{Path: name, Reason: reason})
}

func (w *Workspace) security(name, reason string) {
	err := &model.SecurityError{Entry: name, Reason: reason}
	log.Printf("[security] %v", err)
	w.skip(name, "security: "+reason)
}

// Extract 将压缩包安全解压到新建的临时目录
//
// 无法打开或不含任何条目的压缩包返回 ValidationError；单个不安全条目只会被跳过。
// 返回错误时临时目录已被删除。
func Extract(r io.ReaderAt, size int64, opts ExtractOptions) (ws *Workspace, err error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, model.NewValidationError("无法打开压缩包: %v", err)
	}
	if len(zr.File) == 0 {
		return nil, model.NewValidationError("压缩包不含任何条目")
	}
	if opts.MaxEntries > 0 {
		files := 0
		for _, f := range zr.File {
			if !f.FileInfo().IsDir() {
				files++
			}
		}
		if files > opts.MaxEntries {
			return nil, model.NewValidationError("压缩包条目过多: %d > %d", files, opts.MaxEntries)
		}
	}

	dir, err := os.MkdirTemp(opts.TempDir, "gradebridge-import-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
			ws = nil
		}
	}()

	root, err := safeio.NewRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to bind extraction root: %w", err)
	}
	ws = &Workspace{root: root, dir: dir}

	budget := opts.MaxBytes
	for _, f := range zr.File {
		written, err := ws.extractEntry(f, budget, opts.MaxBytes > 0)
		if err != nil {
			return nil, err
		}
		if opts.MaxBytes > 0 {
			budget -= written
		}
	}

	sort.Slice(ws.Entries, func(i, j int) bool { return ws.Entries[i].Path < ws.Entries[j].Path })
	return ws, nil
}

var errBudgetExceeded = errors.New("archive exceeds size limit")

// extractEntry 解压单个条目；只有超出总大小限制时返回错误
func (w *Workspace) extractEntry(f *zip.File, budget int64, limited bool) (int64, error) {
	name, stripped, err := safeio.SanitizeEntryName(f.Name)
	if err != nil {
		w.security(f.Name, err.Error())
		return 0, nil
	}
	if layout.IsJunk(name) {
		w.skip(f.Name, "system junk file")
		return 0, nil
	}
	if stripped {
		log.Printf("[security] entry %q rewritten to %q", f.Name, name)
		w.Warnings = append(w.Warnings, fmt.Sprintf("条目 %q 含不安全路径段，已改写为 %q", f.Name, name))
	}
	if f.Mode()&os.ModeSymlink != 0 {
		w.security(f.Name, "symbolic links are not allowed")
		return 0, nil
	}

	target, err := w.root.Join(name)
	if err != nil {
		w.security(f.Name, err.Error())
		return 0, nil
	}

	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		if err := os.MkdirAll(target, 0o755); err != nil {
			w.skip(f.Name, "mkdir failed: "+err.Error())
		}
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		w.skip(f.Name, "mkdir failed: "+err.Error())
		return 0, nil
	}
	if ok, err := w.root.Contains(filepath.Dir(target)); err != nil || !ok {
		w.security(f.Name, "parent directory resolves outside extraction root")
		return 0, nil
	}

	written, err := w.writeEntry(f, target, budget, limited)
	if errors.Is(err, errBudgetExceeded) {
		return written, model.NewValidationError("压缩包解压后超过大小限制")
	}
	if err != nil {
		w.skip(f.Name, err.Error())
		return written, nil
	}

	// 解压后重新解析真实路径并再次确认位于根目录内
	if ok, err := w.root.Contains(target); err != nil || !ok {
		_ = os.Remove(target)
		w.security(f.Name, "resolved outside extraction root after extraction")
		return written, nil
	}

	w.Entries = append(w.Entries, Entry{Path: name, AbsPath: target, Size: written})
	return written, nil
}

func (w *Workspace) writeEntry(f *zip.File, target string, budget int64, limited bool) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	// O_EXCL：重复条目不会覆盖已解压的文件，也不会跟随已存在的链接
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, errors.New("duplicate entry")
		}
		return 0, fmt.Errorf("create file: %w", err)
	}

	var src io.Reader = rc
	if limited {
		src = io.LimitReader(rc, budget+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if limited && n > budget {
		_ = os.Remove(target)
		return n, errBudgetExceeded
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return n, fmt.Errorf("write entry: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(target)
		return n, fmt.Errorf("close entry: %w", closeErr)
	}
	return n, nil
}
