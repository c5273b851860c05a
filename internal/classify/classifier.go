package classify

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	"gradebridge/internal/layout"
	"gradebridge/internal/manifest"
	"gradebridge/internal/model"
)

// Kind 文件分类
type Kind string

const (
	KindNewFeedback Kind = "new_feedback"
	KindUnchanged   Kind = "unchanged_submission"
	KindModified    Kind = "modified_submission"
)

// Policy 文件名匹配到原始提交、但清单中没有可比较摘要时的处理策略
type Policy string

const (
	// PolicyUnchanged 无法证明修改过，按未修改处理（默认）
	PolicyUnchanged Policy = "unchanged"
	// PolicyFeedback 无法校验，按新反馈处理
	PolicyFeedback Policy = "feedback"
)

// ParsePolicy 解析配置中的策略名，未知值回退到默认策略
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyFeedback {
		return PolicyFeedback
	}
	return PolicyUnchanged
}

// Candidate 参与者目录中待分类的文件
type Candidate struct {
	Path    string // 压缩包相对路径（正斜杠）
	AbsPath string
}

// File 分类结果，仅在一次导入运行内存在
type File struct {
	Path         string // 分类后（可能已重命名）的相对路径
	AbsPath      string
	OriginalName string
	Name         string // 磁盘上的当前文件名
	Kind         Kind
	Digest       manifest.Digest
	Matched      string // 匹配到的原始提交文件名
}

// Renamed 是否被重命名
func (f File) Renamed() bool {
	return f.Name != f.OriginalName
}

// Classifier 将解压出的文件与已知提交、导出清单比较
type Classifier struct {
	manifest *manifest.Manifest
	policy   Policy
}

// New 创建分类器；m 为 nil 表示压缩包没有清单
func New(m *manifest.Manifest, policy Policy) *Classifier {
	if policy == "" {
		policy = PolicyUnchanged
	}
	return &Classifier{manifest: m, policy: policy}
}

// HasManifest 是否具备变更检测能力
func (c *Classifier) HasManifest() bool {
	return c.manifest != nil
}

type knownIndex map[string]string

func newKnownIndex(names []string) knownIndex {
	idx := make(knownIndex, len(names)*2)
	for _, n := range names {
		if _, ok := idx[n]; !ok {
			idx[n] = n
		}
	}
	for _, n := range names {
		norm := layout.NormalizeName(n)
		if _, ok := idx[norm]; !ok {
			idx[norm] = n
		}
	}
	return idx
}

func (idx knownIndex) match(name string) (string, bool) {
	if n, ok := idx[name]; ok {
		return n, true
	}
	n, ok := idx[layout.NormalizeName(name)]
	return n, ok
}

// Classify 对一个参与者（或小组成员）目录中的文件逐一分类
//
// known 为该参与者（小组为全组并集）以前提交过的文件名。被判定为修改过的文件会在磁盘上
// 重命名为 "<stem>_<marker><ext>"。无法读取或重命名的文件不会出现在结果中，错误单独返回。
func (c *Classifier) Classify(candidates []Candidate, known []string) ([]File, []error) {
	idx := newKnownIndex(known)
	taken := make(map[string]struct{}, len(candidates))
	for _, cand := range candidates {
		taken[cand.Path] = struct{}{}
	}

	files := make([]File, 0, len(candidates))
	var errs []error
	for _, cand := range candidates {
		f, err := c.classifyOne(cand, idx, taken)
		if err != nil {
			errs = append(errs, &model.ProcessingError{Scope: cand.Path, Err: err})
			continue
		}
		files = append(files, f)
	}
	return files, errs
}

func (c *Classifier) classifyOne(cand Candidate, idx knownIndex, taken map[string]struct{}) (File, error) {
	name := path.Base(cand.Path)
	digest, err := manifest.ComputeFile(cand.AbsPath)
	if err != nil {
		return File{}, fmt.Errorf("compute digest: %w", err)
	}
	f := File{
		Path:         cand.Path,
		AbsPath:      cand.AbsPath,
		OriginalName: name,
		Name:         name,
		Kind:         KindNewFeedback,
		Digest:       digest,
	}

	matched, ok := idx.match(name)
	if !ok || c.manifest == nil {
		return f, nil
	}
	f.Matched = matched

	changed, known := c.manifest.Changed(cand.Path, digest)
	if !known && matched != name {
		changed, known = c.manifest.Changed(path.Join(path.Dir(cand.Path), matched), digest)
	}
	switch {
	case !known:
		if c.policy == PolicyFeedback {
			f.Kind = KindNewFeedback
		} else {
			f.Kind = KindUnchanged
		}
		return f, nil
	case !changed:
		f.Kind = KindUnchanged
		return f, nil
	}

	dir := path.Dir(cand.Path)
	absDir := filepath.Dir(cand.AbsPath)
	newName := layout.ModifiedName(name, func(n string) bool {
		if _, ok := taken[path.Join(dir, n)]; ok {
			return true
		}
		_, err := os.Lstat(filepath.Join(absDir, n))
		return err == nil
	})
	newAbs := filepath.Join(absDir, newName)
	if err := os.Rename(cand.AbsPath, newAbs); err != nil {
		return File{}, fmt.Errorf("rename modified submission: %w", err)
	}
	newPath := path.Join(dir, newName)
	delete(taken, cand.Path)
	taken[newPath] = struct{}{}
	log.Printf("modified submission %s renamed to %s", cand.Path, newName)

	f.Kind = KindModified
	f.Name = newName
	f.Path = newPath
	f.AbsPath = newAbs
	return f, nil
}
