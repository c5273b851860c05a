package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var pendingBucket = []byte("pending")

// Notification 一条待投递的“有新反馈”通知
type Notification struct {
	ID           string    `json:"id"`
	AssignmentID int64     `json:"assignmentId"`
	UserID       int64     `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Outbox 基于 bbolt 的通知发件箱
//
// 导入流水线只负责入队；实际投递（邮件、站内信）由外部消费者调用 Pending/Ack 完成。
type Outbox struct {
	db *bbolt.DB
}

// OpenOutbox 打开（或创建）发件箱文件
func OpenOutbox(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Outbox{db: db}, nil
}

// Close 关闭发件箱
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Notify 入队一条通知
func (o *Outbox) Notify(ctx context.Context, assignmentID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		n := Notification{
			ID:           fmt.Sprintf("%020d", seq),
			AssignmentID: assignmentID,
			UserID:       userID,
			CreatedAt:    time.Now().UTC(),
		}
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return b.Put([]byte(n.ID), data)
	})
}

// Pending 按入队顺序返回未确认的通知
func (o *Outbox) Pending() ([]Notification, error) {
	var out []Notification
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(_, v []byte) error {
			var n Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, n)
			return nil
		})
	})
	return out, err
}

// Ack 确认已投递
func (o *Outbox) Ack(id string) error {
	return o.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete([]byte(id))
	})
}

// LogNotifier 只写日志（未配置发件箱时使用）
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, assignmentID, userID int64) error {
	log.Printf("notify: assignment=%d user=%d has new feedback", assignmentID, userID)
	return nil
}
