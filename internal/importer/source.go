package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gradebridge/internal/artifact"
	"gradebridge/internal/model"
)

// Source 待导入的压缩包：原始字节、本地路径或制品存储中的上传结果，三选一
type Source struct {
	Bytes      []byte
	Path       string
	StorageKey string // "uploads/<key>"
	Name       string // 展示用文件名
}

// DisplayName 用于日志与导入记录
func (s Source) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return filepath.Base(s.Path)
	case s.StorageKey != "":
		return s.StorageKey
	}
	return "upload.zip"
}

type archiveReader struct {
	io.ReaderAt
	size  int64
	close func() error
}

func (c *Coordinator) openSource(ctx context.Context, src Source) (*archiveReader, error) {
	set := 0
	for _, ok := range []bool{src.Bytes != nil, src.Path != "", src.StorageKey != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, model.NewValidationError("必须且只能提供一种压缩包来源（字节、路径或存储 key）")
	}

	switch {
	case src.Bytes != nil:
		return &archiveReader{ReaderAt: bytes.NewReader(src.Bytes), size: int64(len(src.Bytes)), close: func() error { return nil }}, nil

	case src.Path != "":
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, model.NewValidationError("无法读取压缩包: %v", err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, model.NewValidationError("无法读取压缩包: %v", err)
		}
		return &archiveReader{ReaderAt: f, size: info.Size(), close: f.Close}, nil
	}

	if c.uploads == nil {
		return nil, fmt.Errorf("artifact store not configured for storage-key imports")
	}
	ns, key, err := artifact.SplitKey(src.StorageKey)
	if err != nil {
		return nil, model.NewValidationError("%v", err)
	}
	data, err := c.uploads.Get(ctx, ns, key)
	if err != nil {
		return nil, model.NewValidationError("无法读取上传的压缩包 %s: %v", src.StorageKey, err)
	}
	return &archiveReader{ReaderAt: bytes.NewReader(data), size: int64(len(data)), close: func() error { return nil }}, nil
}
