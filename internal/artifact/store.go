package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 命名空间
const (
	NamespaceSubmissions = "submissions" // 学生提交的原始文件
	NamespaceFeedback    = "feedback"    // 反馈文件，key 为内容 sha256
	NamespaceUploads     = "uploads"     // 上传待导入的压缩包
)

// Store 制品存储后端
type Store interface {
	Put(ctx context.Context, namespace, key string, content []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Exists(ctx context.Context, namespace, key string) (bool, error)
	List(ctx context.Context, namespace string) ([]string, error)
	// Delete 删除对象；对象不存在时不报错
	Delete(ctx context.Context, namespace, key string) error
}

var ErrNotFound = errors.New("artifact not found")

func normalize(namespace, key string) (string, string, error) {
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if namespace == "" {
		return "", "", fmt.Errorf("namespace is required")
	}
	if key == "" {
		return "", "", fmt.Errorf("key is required")
	}
	return namespace, key, nil
}

func objectKey(namespace, key string) string {
	return namespace + "/" + key
}

// SplitKey 拆分 "namespace/key" 形式的存储路径
func SplitKey(storagePath string) (namespace, key string, err error) {
	storagePath = strings.TrimLeft(strings.TrimSpace(storagePath), "/")
	i := strings.IndexByte(storagePath, '/')
	if i <= 0 || i == len(storagePath)-1 {
		return "", "", fmt.Errorf("invalid storage path %q", storagePath)
	}
	return storagePath[:i], storagePath[i+1:], nil
}

// JoinKey 组合存储路径
func JoinKey(namespace, key string) string {
	return objectKey(strings.Trim(namespace, "/"), strings.TrimLeft(key, "/"))
}
