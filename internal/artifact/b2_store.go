package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kurin/blazer/b2"
)

type B2Config struct {
	AccountID string `toml:"account_id"`
	AppKey    string `toml:"app_key"`
	Bucket    string `toml:"bucket"`
}

// B2Store Backblaze B2 存储
type B2Store struct {
	bucket *b2.Bucket
}

func NewB2Store(ctx context.Context, cfg B2Config) (*B2Store, error) {
	if cfg.AccountID == "" || cfg.AppKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("b2 account id, app key and bucket are required")
	}
	client, err := b2.NewClient(ctx, cfg.AccountID, cfg.AppKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &B2Store{bucket: bucket}, nil
}

func (s *B2Store) Put(ctx context.Context, namespace, key string, content []byte) error {
	namespace, key, err := normalize(namespace, key)
	if err != nil {
		return err
	}
	w := s.bucket.Object(objectKey(namespace, key)).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func (s *B2Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	namespace, key, err := normalize(namespace, key)
	if err != nil {
		return nil, err
	}
	r := s.bucket.Object(objectKey(namespace, key)).NewReader(ctx)
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		if b2.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *B2Store) Exists(ctx context.Context, namespace, key string) (bool, error) {
	namespace, key, err := normalize(namespace, key)
	if err != nil {
		return false, err
	}
	_, err = s.bucket.Object(objectKey(namespace, key)).Attrs(ctx)
	if err != nil {
		if b2.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *B2Store) Delete(ctx context.Context, namespace, key string) error {
	namespace, key, err := normalize(namespace, key)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(objectKey(namespace, key)).Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *B2Store) List(ctx context.Context, namespace string) ([]string, error) {
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	prefix := namespace + "/"
	var keys []string
	iter := s.bucket.List(ctx, b2.ListPrefix(prefix))
	for iter.Next() {
		keys = append(keys, strings.TrimPrefix(iter.Object().Name(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
