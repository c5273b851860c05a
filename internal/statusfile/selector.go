package statusfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gradebridge/internal/layout"
	"gradebridge/internal/manifest"
)

// Format 状态文件格式
type Format string

const (
	FormatXLSX Format = "xlsx" // 格式 A（主格式）
	FormatCSV  Format = "csv"  // 格式 B
)

// Formats 按优先级排列的全部格式
var Formats = []Format{FormatXLSX, FormatCSV}

// FileName 压缩包根目录下的文件名
func (f Format) FileName() string {
	switch f {
	case FormatXLSX:
		return layout.StatusFileXLSX
	case FormatCSV:
		return layout.StatusFileCSV
	}
	return "status." + string(f)
}

// Selection 选中的状态文件
type Selection struct {
	Format   Format
	Name     string
	Path     string // 解压目录中的绝对路径
	Changed  bool   // 相对清单是否被修改
	Conflict string // 两种格式都被修改时的冲突警告
}

type candidate struct {
	format  Format
	path    string
	changed bool
}

// Select 决定应用哪一个状态文件
//
// 只看文件是否存在以及摘要是否与清单一致，不检查内容。两个都被修改时应用格式 A 并给出冲突警告；
// 只有一个被修改时应用它；否则按 A、B 的顺序取存在的那个。都不存在时返回 nil。
func Select(root string, m *manifest.Manifest) (*Selection, error) {
	var present []candidate
	for _, f := range Formats {
		p := filepath.Join(root, f.FileName())
		info, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.FileName(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		c := candidate{format: f, path: p}
		if m != nil {
			d, err := manifest.ComputeFile(p)
			if err != nil {
				return nil, fmt.Errorf("digest %s: %w", f.FileName(), err)
			}
			c.changed, _ = m.Changed(f.FileName(), d)
		}
		present = append(present, c)
	}
	if len(present) == 0 {
		return nil, nil
	}

	var changed []candidate
	for _, c := range present {
		if c.changed {
			changed = append(changed, c)
		}
	}

	pick := present[0]
	conflict := ""
	switch len(changed) {
	case 0:
	case 1:
		pick = changed[0]
	default:
		pick = changed[0]
		conflict = fmt.Sprintf("%s 与 %s 都被修改，仅应用 %s",
			changed[0].format.FileName(), changed[1].format.FileName(), pick.format.FileName())
	}
	return &Selection{
		Format:   pick.format,
		Name:     pick.format.FileName(),
		Path:     pick.path,
		Changed:  pick.changed,
		Conflict: conflict,
	}, nil
}
