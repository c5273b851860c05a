package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"gradebridge/internal/artifact"
	"gradebridge/internal/layout"
	"gradebridge/internal/model"
	"gradebridge/internal/store"
)

// Catalog 提交与反馈的元数据（由 store.Store 实现）
type Catalog interface {
	ListSubmissionFiles(ctx context.Context, assignmentID, userID int64) ([]model.SubmissionFile, error)
	AddSubmission(ctx context.Context, assignmentID int64, f model.SubmissionFile) error
	AddFeedback(ctx context.Context, f store.FeedbackFile) (int64, error)
}

const defaultCacheSize = 256

// Service 提交文件查询与反馈附加
//
// 元数据在 Catalog，文件内容在制品存储。导出小组时同一文件会写进每个成员目录，
// 读取结果按存储路径缓存。
type Service struct {
	catalog   Catalog
	artifacts artifact.Store
	blobs     *lru.Cache[string, []byte]
}

// NewService 创建服务；cacheSize <= 0 使用默认值
func NewService(catalog Catalog, artifacts artifact.Store, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("init blob cache: %w", err)
	}
	return &Service{catalog: catalog, artifacts: artifacts, blobs: cache}, nil
}

// ListSubmissions 返回用户已提交的文件（最新在前）
func (s *Service) ListSubmissions(ctx context.Context, assignmentID, userID int64) ([]model.SubmissionFile, error) {
	return s.catalog.ListSubmissionFiles(ctx, assignmentID, userID)
}

// ReadSubmission 读取提交文件内容
func (s *Service) ReadSubmission(ctx context.Context, f model.SubmissionFile) ([]byte, error) {
	if data, ok := s.blobs.Get(f.StoragePath); ok {
		return data, nil
	}
	ns, key, err := artifact.SplitKey(f.StoragePath)
	if err != nil {
		return nil, err
	}
	data, err := s.artifacts.Get(ctx, ns, key)
	if err != nil {
		return nil, fmt.Errorf("read submission %s: %w", f.StoragePath, err)
	}
	s.blobs.Add(f.StoragePath, data)
	return data, nil
}

// Submit 保存一次提交（内容写入制品存储，元数据写入 Catalog）
func (s *Service) Submit(ctx context.Context, assignmentID, userID int64, name string, data []byte, at time.Time) (model.SubmissionFile, error) {
	if at.IsZero() {
		at = time.Now()
	}
	key := path.Join(strconv.FormatInt(assignmentID, 10), strconv.FormatInt(userID, 10), uuid.NewString(), layout.SafeName(name))
	if err := s.artifacts.Put(ctx, artifact.NamespaceSubmissions, key, data); err != nil {
		return model.SubmissionFile{}, fmt.Errorf("store submission: %w", err)
	}
	f := model.SubmissionFile{
		UserID:      userID,
		Name:        name,
		StoragePath: artifact.JoinKey(artifact.NamespaceSubmissions, key),
		SubmittedAt: at,
	}
	if err := s.catalog.AddSubmission(ctx, assignmentID, f); err != nil {
		return model.SubmissionFile{}, err
	}
	return f, nil
}

// Attach 附加一个反馈文件
//
// 内容按 sha256 寻址，只存一份；每个接收人各有一条关联记录。
func (s *Service) Attach(ctx context.Context, a model.Attachment) error {
	sum := a.SHA256
	if sum == "" {
		h := sha256.Sum256(a.Data)
		sum = hex.EncodeToString(h[:])
	}
	key := feedbackKey(sum)

	exists, err := s.artifacts.Exists(ctx, artifact.NamespaceFeedback, key)
	if err != nil {
		return fmt.Errorf("check feedback object: %w", err)
	}
	if !exists {
		if err := s.artifacts.Put(ctx, artifact.NamespaceFeedback, key, a.Data); err != nil {
			return fmt.Errorf("store feedback object: %w", err)
		}
	}
	_, err = s.catalog.AddFeedback(ctx, store.FeedbackFile{
		AssignmentID: a.AssignmentID,
		UserID:       a.UserID,
		Filename:     a.Filename,
		StorageKey:   artifact.JoinKey(artifact.NamespaceFeedback, key),
		SHA256:       sum,
		Size:         int64(len(a.Data)),
		RunID:        a.RunID,
	})
	return err
}

func feedbackKey(sum string) string {
	if len(sum) < 2 {
		return sum
	}
	return sum[:2] + "/" + sum
}
