package layout

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gradebridge/internal/model"
)

// 压缩包根目录下的保留文件名
const (
	StatusFileXLSX = "status.xlsx"    // 状态文件格式 A（优先）
	StatusFileCSV  = "status.csv"     // 状态文件格式 B
	ManifestFile   = "checksums.json" // 校验清单
	ReadmeFile     = "README.md"      // 操作说明（导入时不解析）
	TeamInfoFile   = "team_info.txt"  // 小组信息（仅供阅读）

	TeamFolderPrefix = "Team_"

	// escapedTeamSegment 个人目录首段恰好为 "Team" 时的替换，避免与小组目录混淆
	escapedTeamSegment = "team"

	// ModificationMarker 被评分人修改过的原始提交文件追加的后缀
	ModificationMarker = "modified"
)

var reservedRootNames = map[string]struct{}{
	StatusFileXLSX: {},
	StatusFileCSV:  {},
	ManifestFile:   {},
	ReadmeFile:     {},
}

// IsReservedRootName 判断根目录文件是否为系统文件
//
// 同名文件出现在参与者目录内时按普通文件处理。
func IsReservedRootName(name string) bool {
	_, ok := reservedRootNames[name]
	return ok
}

// FolderName 返回参与者在压缩包中的目录名
func FolderName(p model.Participant) string {
	switch v := p.(type) {
	case *model.Team:
		return TeamFolder(v.TeamID)
	case *model.Individual:
		return IndividualFolder(v.Identity)
	}
	return fmt.Sprintf("%s_%d", p.Kind(), p.ID())
}

// TeamFolder 小组目录："Team_<id>"
func TeamFolder(teamID int64) string {
	return TeamFolderPrefix + strconv.FormatInt(teamID, 10)
}

// IndividualFolder 个人目录："<Last>_<First>_<login>_<id>"，空字段省略
func IndividualFolder(id model.Identity) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{id.LastName, id.FirstName, id.Login} {
		if s := SafeName(p); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, strconv.FormatInt(id.UserID, 10))
	if parts[0]+"_" == TeamFolderPrefix {
		parts[0] = escapedTeamSegment
	}
	return strings.Join(parts, "_")
}

// FolderRef 从目录名解析出的参与者引用
type FolderRef struct {
	Kind model.ParticipantKind
	ID   int64
}

// ParseFolder 解析目录名末尾的数字身份后缀
//
// 只有 "Team_<id>" 整体匹配时才是小组目录，其余以 Team_ 开头的名字按个人目录解析。
func ParseFolder(name string) (FolderRef, bool) {
	name = strings.TrimSuffix(name, "/")
	if name == "" || strings.Contains(name, "/") {
		return FolderRef{}, false
	}
	if strings.HasPrefix(name, TeamFolderPrefix) {
		id, err := strconv.ParseInt(strings.TrimPrefix(name, TeamFolderPrefix), 10, 64)
		if err == nil && id > 0 {
			return FolderRef{Kind: model.KindTeam, ID: id}, true
		}
	}
	idx := strings.LastIndex(name, "_")
	suffix := name[idx+1:]
	id, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || id <= 0 {
		return FolderRef{}, false
	}
	return FolderRef{Kind: model.KindIndividual, ID: id}, true
}

var specialLetters = strings.NewReplacer(
	"ß", "ss", "Æ", "AE", "æ", "ae", "Ø", "O", "ø", "o", "Œ", "OE", "œ", "oe",
	"Ł", "L", "ł", "l", "Đ", "D", "đ", "d", "Þ", "Th", "þ", "th",
)

// Transliterate 去掉变音符号并转换常见特殊字母
func Transliterate(s string) string {
	s = specialLetters.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// SafeName 将任意字符串转换为文件系统安全的目录名片段 [A-Za-z0-9.-]
func SafeName(s string) string {
	s = Transliterate(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	// 下划线用作字段分隔符，片段内部不保留
	return strings.Trim(strings.ReplaceAll(b.String(), "_", "-"), "-.")
}

// SafeFileName 去掉文件名中的路径分隔符与控制字符，其余字符原样保留
func SafeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

var timestampPrefix = regexp.MustCompile(
	`^(?:\d{4}-\d{2}-\d{2}(?:[ _T-]\d{2}[-:.]?\d{2}(?:[-:.]?\d{2})?)?|\d{8}(?:[-_T]?\d{4,6})?|\d{10,14})[ _-]+`)

// NormalizeName 去掉文件名前的时间戳前缀（例如 "20240131_120501_essay.txt"）
func NormalizeName(name string) string {
	trimmed := timestampPrefix.ReplaceAllString(name, "")
	if trimmed == "" {
		return name
	}
	return trimmed
}

// ModifiedName 生成 "<stem>_<marker><ext>"，taken 返回 true 时追加序号
func ModifiedName(name string, taken func(string) bool) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := stem + "_" + ModificationMarker + ext
	for i := 2; taken != nil && taken(candidate); i++ {
		candidate = fmt.Sprintf("%s_%s_%d%s", stem, ModificationMarker, i, ext)
	}
	return candidate
}

// IsJunk 操作系统产生的无关文件
func IsJunk(p string) bool {
	base := path.Base(p)
	if base == ".DS_Store" || base == "Thumbs.db" || base == "desktop.ini" {
		return true
	}
	return p == "__MACOSX" || strings.HasPrefix(p, "__MACOSX/") || strings.HasPrefix(base, "._")
}
