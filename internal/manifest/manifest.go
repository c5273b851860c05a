package manifest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gradebridge/internal/layout"
)

// Kind 制品类型
type Kind string

const (
	KindStatusFile Kind = "status_file"
	KindSubmission Kind = "submission"
)

// Record 单个文件的校验记录
//
// 读取时忽略未知字段，新增摘要算法不会破坏旧清单。
type Record struct {
	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size"`
	Type   Kind   `json:"type"`
}

// Digest 一次性计算出的内容摘要
type Digest struct {
	MD5    string
	SHA256 string
	Size   int64
}

// Record 转换为清单记录
func (d Digest) Record(kind Kind) Record {
	return Record{MD5: d.MD5, SHA256: d.SHA256, Size: d.Size, Type: kind}
}

// Equal 用双方都具备的最强算法比较；没有共同算法时返回 false
func (r Record) Equal(d Digest) bool {
	switch {
	case r.SHA256 != "" && d.SHA256 != "":
		return strings.EqualFold(r.SHA256, d.SHA256)
	case r.MD5 != "" && d.MD5 != "":
		return strings.EqualFold(r.MD5, d.MD5)
	}
	return false
}

// Comparable 是否至少包含一种可用于比较的摘要
func (r Record) Comparable() bool {
	return r.SHA256 != "" || r.MD5 != ""
}

// Manifest 压缩包相对路径 → 校验记录；导出时生成，之后只读
type Manifest struct {
	records map[string]Record
}

// New 创建空清单
func New() *Manifest {
	return &Manifest{records: make(map[string]Record)}
}

// Key 统一的清单路径格式（正斜杠、无前导分隔符）
func Key(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Add 记录一个文件
func (m *Manifest) Add(p string, d Digest, kind Kind) {
	m.records[Key(p)] = d.Record(kind)
}

// Lookup 查找记录
func (m *Manifest) Lookup(p string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	r, ok := m.records[Key(p)]
	return r, ok
}

// Len 记录数
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.records)
}

// Paths 按字典序返回全部路径
func (m *Manifest) Paths() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.records))
	for p := range m.records {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Changed 比较当前摘要与导出时的摘要
//
// known=false 表示清单中没有该路径（或记录不含可比较的摘要）。
func (m *Manifest) Changed(p string, d Digest) (changed, known bool) {
	r, ok := m.Lookup(p)
	if !ok || !r.Comparable() {
		return false, false
	}
	return !r.Equal(d), true
}

// MarshalJSON 输出扁平对象，键按字典序
func (m *Manifest) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.records)
}

// UnmarshalJSON 读取扁平对象
func (m *Manifest) UnmarshalJSON(data []byte) error {
	raw := map[string]Record{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.records = make(map[string]Record, len(raw))
	for p, r := range raw {
		m.records[Key(p)] = r
	}
	return nil
}

// Encode 序列化为带缩进的 JSON
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse 解析 checksums.json
func Parse(data []byte) (*Manifest, error) {
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// Load 从解压根目录读取清单；文件不存在时返回 (nil, nil)
func Load(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, layout.ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Compute 计算内容摘要
func Compute(r io.Reader) (Digest, error) {
	h256 := sha256.New()
	h5 := md5.New()
	n, err := io.Copy(io.MultiWriter(h256, h5), r)
	if err != nil {
		return Digest{}, err
	}
	return Digest{
		MD5:    hex.EncodeToString(h5.Sum(nil)),
		SHA256: hex.EncodeToString(h256.Sum(nil)),
		Size:   n,
	}, nil
}

// ComputeBytes 计算内存数据的摘要
func ComputeBytes(data []byte) Digest {
	d, _ := Compute(bytes.NewReader(data))
	return d
}

// ComputeFile 计算磁盘文件的摘要
func ComputeFile(p string) (Digest, error) {
	f, err := os.Open(p)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	return Compute(f)
}
