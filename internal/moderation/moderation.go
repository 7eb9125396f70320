// 包 moderation：摊位状态上报、滥用举报阈值下线与评论维护
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot-api/internal/logger"
	"spot-api/internal/metrics"
	"spot-api/internal/spot"
	"spot-api/internal/store"

	"github.com/google/uuid"
)

var ErrCommentNotFound = errors.New("comment not found")

const (
	reportsSub      = "reports"
	abuseReportsSub = "abuseReports"
	commentsField   = "comments"
)

type Options struct {
	Threshold int           // 同一原因的举报数达到该值即下线，默认 10
	ReportTTL time.Duration // 状态上报的 expiresAt 偏移，默认 2h
	// LegacyValueMatch 为 true 时评论按完整值匹配增删，旧值不匹配则静默不变；否则按评论 id 定位，找不到返回 ErrCommentNotFound
	LegacyValueMatch bool
	// SnapshotCounting 为 true 时即使文档库支持原子自增，也按调用方快照 +1 计数
	SnapshotCounting bool
	Now              func() time.Time
	// OnRemoved 在摊位被阈值下线后调用，用于清理本地缓存
	OnRemoved func(ctx context.Context, spotID string)
}

type Service struct {
	store store.DocumentStore
	opts  Options
}

func New(st store.DocumentStore, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = spot.AbuseThreshold
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = spot.DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, opts: opts}
}

// Result：举报结果，Removed 表示本次举报使摊位下线
type Result struct {
	Removed  bool   `json:"removed"`
	ReportID string `json:"id"`
}

func (s *Service) load(ctx context.Context, spotID string) (spot.Spot, error) {
	d, err := s.store.GetByID(ctx, spot.Collection, spotID)
	if err != nil {
		return spot.Spot{}, err
	}
	var sp spot.Spot
	if err := store.Decode(d, &sp); err != nil {
		return spot.Spot{}, err
	}
	return sp, nil
}

// 文档注释：提交状态上报
// 背景：上报写入 spots/{id}/reports 后不可变；摊位的 reportCount/lastReportedAt 总是刷新，
// status/lastStatusUpdate 仅在 reportedAt 不早于当前 lastStatusUpdate 时更新（最后写入者胜出）。
// 约束：不修改摊位 expiresAt；时间戳信任调用方，不处理乱序投递。
func (s *Service) SubmitReport(ctx context.Context, spotID string, r spot.Report) (string, error) {
	if !r.Status.Valid() {
		return "", fmt.Errorf("%w: %q", spot.ErrInvalidStatus, r.Status)
	}
	if len(r.Images) > spot.MaxImages {
		return "", fmt.Errorf("%w: %d > %d", spot.ErrTooManyImages, len(r.Images), spot.MaxImages)
	}
	snap, err := s.load(ctx, spotID)
	if err != nil {
		return "", err
	}
	if r.ReportedAt == 0 {
		r.ReportedAt = s.opts.Now().UnixMilli()
	}
	if r.ExpiresAt == 0 {
		r.ExpiresAt = spot.ExpiryFrom(r.ReportedAt, s.opts.ReportTTL)
	}
	r.ID = ""
	r.SpotID = spotID
	doc, err := store.Encode(r)
	if err != nil {
		return "", err
	}
	delete(doc, "id")
	id, err := s.store.Put(ctx, store.SubCollection(spot.Collection, spotID, reportsSub), doc)
	if err != nil {
		return "", err
	}
	_, fields := spot.ApplyReport(snap, r)
	if err := s.store.UpdateFields(ctx, spot.Collection, spotID, fields); err != nil {
		return "", err
	}
	metrics.ReportsTotal.Inc()
	logger.L().Info("spot_report", "spot", spotID, "report", id, "status", r.Status, "applied", fields["status"] != nil)
	return id, nil
}

// ListReports：按 reportedAt 倒序
func (s *Service) ListReports(ctx context.Context, spotID string) ([]spot.Report, error) {
	docs, err := s.store.List(ctx, store.SubCollection(spot.Collection, spotID, reportsSub), "reportedAt", true, 0)
	if err != nil {
		return nil, err
	}
	out := make([]spot.Report, 0, len(docs))
	for _, d := range docs {
		var r spot.Report
		if err := store.Decode(d, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// 文档注释：提交滥用举报
// 背景：先写入不可变的举报记录，再将 abuseReportsCount[reason] 加一；同一原因累计达到阈值时把 expiresAt 置 0，
// 摊位立即从发现结果中消失。
// 约束：文档库支持原子自增时以自增结果为准；否则基于调用方提供的快照计数，并发举报可能少计（跨进程竞争，不在进程内加锁）。
// 不提供撤销或申诉路径。
func (s *Service) SubmitAbuseReport(ctx context.Context, spotID string, snapshot spot.Spot, r spot.AbuseReport) (Result, error) {
	if !r.Reason.Valid() {
		return Result{}, fmt.Errorf("%w: %q", spot.ErrInvalidReason, r.Reason)
	}
	if r.ReportedAt == 0 {
		r.ReportedAt = s.opts.Now().UnixMilli()
	}
	r.ID = ""
	r.SpotID = spotID
	// 先确认地点存在，避免留下孤立的举报记录
	if _, err := s.store.GetByID(ctx, spot.Collection, spotID); err != nil {
		return Result{}, err
	}
	doc, err := store.Encode(r)
	if err != nil {
		return Result{}, err
	}
	delete(doc, "id")
	id, err := s.store.Put(ctx, store.SubCollection(spot.Collection, spotID, abuseReportsSub), doc)
	if err != nil {
		return Result{}, err
	}
	metrics.AbuseReportsTotal.WithLabelValues(string(r.Reason)).Inc()

	field := "abuseReportsCount." + string(r.Reason)
	var count int
	updates := map[string]any{}
	if inc, ok := s.store.(store.Incrementer); ok && !s.opts.SnapshotCounting {
		n, err := inc.IncrementField(ctx, spot.Collection, spotID, field, 1)
		if err != nil {
			return Result{}, err
		}
		count = int(n)
	} else {
		count = snapshot.AbuseCount(r.Reason) + 1
		updates[field] = count
	}
	removed := count >= s.opts.Threshold
	if removed {
		updates["expiresAt"] = 0
	}
	if len(updates) > 0 {
		if err := s.store.UpdateFields(ctx, spot.Collection, spotID, updates); err != nil {
			return Result{}, err
		}
	}
	logger.L().Info("spot_abuse_report", "spot", spotID, "report", id, "reason", r.Reason, "count", count, "removed", removed)
	if removed {
		metrics.AbuseRemovalsTotal.WithLabelValues(string(r.Reason)).Inc()
		if s.opts.OnRemoved != nil {
			s.opts.OnRemoved(ctx, spotID)
		}
	}
	return Result{Removed: removed, ReportID: id}, nil
}

// AddComment：追加评论，缺省时分配 id 与 createdAt
func (s *Service) AddComment(ctx context.Context, spotID string, c spot.Comment) (spot.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = s.opts.Now().UnixMilli()
	}
	if err := s.store.AppendToArrayField(ctx, spot.Collection, spotID, commentsField, c); err != nil {
		return spot.Comment{}, err
	}
	return c, nil
}

// 文档注释：修改评论
// 背景：默认按 old.ID 定位，只合并 text 与 updatedAt（保持顺序与其余字段），由存储侧原子完成，
// 找不到返回 ErrCommentNotFound；
// LegacyValueMatch 下按完整旧值匹配，先移除旧值再追加新值，旧值已变化时整体静默不变。
func (s *Service) UpdateComment(ctx context.Context, spotID string, old, updated spot.Comment) (spot.Comment, error) {
	if updated.UpdatedAt == 0 {
		updated.UpdatedAt = s.opts.Now().UnixMilli()
	}
	if s.opts.LegacyValueMatch {
		sp, err := s.load(ctx, spotID)
		if err != nil {
			return spot.Comment{}, err
		}
		if indexOfValue(sp.Comments, old) < 0 {
			logger.L().Debug("comment_update_stale", "spot", spotID, "comment", old.ID)
			return old, nil
		}
		if err := s.store.RemoveFromArrayField(ctx, spot.Collection, spotID, commentsField, old); err != nil {
			return spot.Comment{}, err
		}
		if err := s.store.AppendToArrayField(ctx, spot.Collection, spotID, commentsField, updated); err != nil {
			return spot.Comment{}, err
		}
		return updated, nil
	}
	if old.ID == "" {
		return spot.Comment{}, fmt.Errorf("%w: empty id", ErrCommentNotFound)
	}
	patch := map[string]any{"text": updated.Text, "updatedAt": updated.UpdatedAt}
	elem, ok, err := s.store.PatchArrayElementByID(ctx, spot.Collection, spotID, commentsField, old.ID, patch)
	if err != nil {
		return spot.Comment{}, err
	}
	if !ok {
		return spot.Comment{}, fmt.Errorf("%w: %s", ErrCommentNotFound, old.ID)
	}
	var cur spot.Comment
	if err := store.Decode(elem, &cur); err != nil {
		return spot.Comment{}, err
	}
	return cur, nil
}

// DeleteComment：默认按 id 删除；LegacyValueMatch 下按完整值删除，不匹配时静默
func (s *Service) DeleteComment(ctx context.Context, spotID string, c spot.Comment) error {
	if s.opts.LegacyValueMatch {
		return s.store.RemoveFromArrayField(ctx, spot.Collection, spotID, commentsField, c)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrCommentNotFound)
	}
	ok, err := s.store.RemoveArrayElementByID(ctx, spot.Collection, spotID, commentsField, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommentNotFound, c.ID)
	}
	return nil
}

func indexOfValue(cs []spot.Comment, c spot.Comment) int {
	for i := range cs {
		if cs[i] == c {
			return i
		}
	}
	return -1
}
