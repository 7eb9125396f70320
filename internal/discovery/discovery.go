// 包 discovery：附近摊位检索（范围规划 → 并发范围查询 → 合并过滤）与本地缓存旁路
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spot-api/internal/geohash"
	"spot-api/internal/localdb"
	"spot-api/internal/logger"
	"spot-api/internal/metrics"
	"spot-api/internal/spot"
	"spot-api/internal/store"
)

var ErrQueryFailure = errors.New("could not load nearby results")

type Options struct {
	Limit        int           // 每个区间的结果上限，默认 30
	SpotTTL      time.Duration // 新建摊位的存活时间，默认 2h
	TombstoneTTL time.Duration // Forget 记录的保留时间，不应短于缓存 TTL，默认 5m
	Now          func() time.Time
}

// 文档注释：检索服务
// 背景：文档库为唯一可信源；cache 为可选的本地旁路缓存（未命中时回源并写回）。
// 约束：cache 为 nil 时每次回源；不提供取消，调用方切换参数时自行丢弃旧结果。
// Forget 之后，已在途的回源结果不会写回缓存，被下线的 id 在 TombstoneTTL 内从所有结果中剔除。
type Service struct {
	store   store.DocumentStore
	cache   *localdb.TTLCache[[]spot.Spot]
	limit   int
	spotTTL time.Duration
	now     func() time.Time

	mu           sync.Mutex
	epoch        uint64
	removed      map[string]int64 // id -> 墓碑到期时间（毫秒）
	tombstoneTTL time.Duration
}

func New(st store.DocumentStore, cache *localdb.TTLCache[[]spot.Spot], opts Options) *Service {
	s := &Service{store: st, cache: cache, limit: opts.Limit, spotTTL: opts.SpotTTL, now: opts.Now,
		removed: make(map[string]int64), tombstoneTTL: opts.TombstoneTTL}
	if s.limit <= 0 {
		s.limit = spot.QueryLimit
	}
	if s.spotTTL <= 0 {
		s.spotTTL = spot.DefaultTTL
	}
	if s.tombstoneTTL <= 0 {
		s.tombstoneTTL = spot.CacheTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type Query struct {
	Lat          float64
	Lng          float64
	RadiusM      float64
	ForceRefresh bool
}

// PlanQuery：半径 <=0 时使用默认 2000 米
func PlanQuery(lat, lng, radiusM float64) ([]geohash.Range, error) {
	if radiusM <= 0 {
		radiusM = spot.DefaultRadiusM
	}
	return geohash.QueryBounds(lat, lng, radiusM)
}

// CacheKey：中心点粗化到 5 位 geohash（约 4.9km 单元），同一单元内的不同中心共享缓存
func CacheKey(lat, lng float64) (string, error) {
	h, err := geohash.Encode(lat, lng, spot.CacheKeyPrecision)
	if err != nil {
		return "", err
	}
	return "spots_" + h, nil
}

// 文档注释：并发执行区间查询
// 背景：每个区间一次独立的有序范围查询（带结果上限），全部发出后统一等待。
// 约束：任一区间失败则整体失败（ErrQueryFailure 包裹首个失败区间的错误），不做部分合并。
func (s *Service) ExecuteQuery(ctx context.Context, ranges []geohash.Range) ([][]spot.Spot, error) {
	batches := make([][]spot.Spot, len(ranges))
	errs := make([]error, len(ranges))
	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func(i int, r geohash.Range) {
			defer wg.Done()
			metrics.IntervalQueriesTotal.Inc()
			docs, err := s.store.RangeQuery(ctx, spot.Collection, spot.GeohashField, r.Start, r.End, s.limit)
			if err != nil {
				errs[i] = fmt.Errorf("range [%s,%s]: %w", r.Start, r.End, err)
				return
			}
			out := make([]spot.Spot, 0, len(docs))
			for _, d := range docs {
				var sp spot.Spot
				if err := store.Decode(d, &sp); err != nil {
					errs[i] = fmt.Errorf("range [%s,%s] decode: %w", r.Start, r.End, err)
					return
				}
				out = append(out, sp)
			}
			batches[i] = out
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailure, err)
		}
	}
	return batches, nil
}

// 文档注释：合并过滤
// 背景：展平各区间结果，丢弃 expiresAt <= now 的条目，再按 id 去重保留首次出现。
// 约束：不做精确半径过滤，包围单元内但圆外的条目保留；需要精确半径的调用方使用 WithinRadius。
func FilterResults(batches [][]spot.Spot, now time.Time) []spot.Spot {
	out := make([]spot.Spot, 0)
	seen := make(map[string]bool)
	for _, b := range batches {
		for _, sp := range b {
			if !sp.IsLive(now) {
				continue
			}
			if seen[sp.ID] {
				continue
			}
			seen[sp.ID] = true
			out = append(out, sp)
		}
	}
	return out
}

// WithinRadius：按球面距离精确裁剪到半径内
func WithinRadius(spots []spot.Spot, lat, lng, radiusM float64) []spot.Spot {
	out := make([]spot.Spot, 0, len(spots))
	for _, sp := range spots {
		if sp.DistanceKm(lat, lng)*1000 <= radiusM {
			out = append(out, sp)
		}
	}
	return out
}

func liveOnly(spots []spot.Spot, now time.Time) []spot.Spot {
	out := make([]spot.Spot, 0, len(spots))
	for _, sp := range spots {
		if sp.IsLive(now) {
			out = append(out, sp)
		}
	}
	return out
}

func (s *Service) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// dropRemoved：剔除墓碑期内的 id，顺带清理到期墓碑
func (s *Service) dropRemoved(spots []spot.Spot) []spot.Spot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.removed) == 0 {
		return spots
	}
	nowMs := s.now().UnixMilli()
	for id, until := range s.removed {
		if until <= nowMs {
			delete(s.removed, id)
		}
	}
	out := make([]spot.Spot, 0, len(spots))
	for _, sp := range spots {
		if _, gone := s.removed[sp.ID]; !gone {
			out = append(out, sp)
		}
	}
	return out
}

// 文档注释：附近摊位检索（缓存旁路）
// 背景：先读本地缓存（非强制刷新且命中非空列表时直接返回，并再次按过期时间与墓碑过滤）；
// 未命中则规划区间、并发查询、合并过滤，结果写回缓存后返回。
// 约束：回源期间发生过 Forget 时不写回；写回后再校验一次，期间有 Forget 则删除刚写入的条目。
// 异常：坐标非法返回 ErrInvalidCoordinate；任一区间失败返回 ErrQueryFailure。
func (s *Service) FetchSpots(ctx context.Context, q Query) ([]spot.Spot, error) {
	tBegin := time.Now()
	metrics.DiscoveryRequestsTotal.Inc()
	defer func() { metrics.DiscoveryDurationMs.Observe(float64(time.Since(tBegin).Milliseconds())) }()
	key, err := CacheKey(q.Lat, q.Lng)
	if err != nil {
		return nil, err
	}
	epoch := s.currentEpoch()
	if s.cache != nil && !q.ForceRefresh {
		if cached, ok := s.cache.Get(ctx, key); ok && len(cached) > 0 {
			out := s.dropRemoved(liveOnly(cached, s.now()))
			logger.L().Debug("discovery_cache_hit", "key", key, "count", len(out))
			metrics.DiscoveryResultSize.Observe(float64(len(out)))
			return out, nil
		}
	}
	ranges, err := PlanQuery(q.Lat, q.Lng, q.RadiusM)
	if err != nil {
		return nil, err
	}
	logger.L().Debug("discovery_fetch_begin", "lat", q.Lat, "lng", q.Lng, "radius_m", q.RadiusM, "intervals", len(ranges))
	batches, err := s.ExecuteQuery(ctx, ranges)
	if err != nil {
		metrics.DiscoveryFailuresTotal.Inc()
		logger.L().Error("discovery_fetch_error", "lat", q.Lat, "lng", q.Lng, "err", err)
		return nil, err
	}
	out := s.dropRemoved(FilterResults(batches, s.now()))
	if s.cache != nil && s.currentEpoch() == epoch {
		s.cache.Set(ctx, key, out)
		if s.currentEpoch() != epoch {
			s.cache.Delete(ctx, key)
		}
	} else if s.cache != nil {
		logger.L().Debug("discovery_cache_skip", "key", key, "reason", "removed_during_fetch")
	}
	metrics.DiscoveryResultSize.Observe(float64(len(out)))
	logger.L().Debug("discovery_fetch_done", "key", key, "count", len(out))
	return out, nil
}

// GetSpot：仅返回仍存活的摊位，否则 store.ErrNotFound
func (s *Service) GetSpot(ctx context.Context, id string) (spot.Spot, error) {
	d, err := s.store.GetByID(ctx, spot.Collection, id)
	if err != nil {
		return spot.Spot{}, err
	}
	var sp spot.Spot
	if err := store.Decode(d, &sp); err != nil {
		return spot.Spot{}, err
	}
	if !sp.IsLive(s.now()) {
		return spot.Spot{}, store.ErrNotFound
	}
	return sp, nil
}

// CreateSpot：生成 geohash 与过期时间后写入，id 由文档库分配
func (s *Service) CreateSpot(ctx context.Context, d spot.Draft) (spot.Spot, error) {
	sp, err := spot.New(d, s.now(), s.spotTTL)
	if err != nil {
		return spot.Spot{}, err
	}
	doc, err := store.Encode(sp)
	if err != nil {
		return spot.Spot{}, err
	}
	delete(doc, "id")
	id, err := s.store.Put(ctx, spot.Collection, doc)
	if err != nil {
		return spot.Spot{}, err
	}
	sp.ID = id
	logger.L().Info("spot_created", "id", id, "geohash", sp.Location.Geohash, "expires_at", sp.ExpiresAt)
	return sp, nil
}

// Sweep：显式触发的缓存清扫，不自行调度
func (s *Service) Sweep(ctx context.Context) int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Sweep(ctx)
}

func (s *Service) ClearCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Clear(ctx)
	}
}

// Forget：记录墓碑并淘汰所有包含该摊位的缓存列表，供审核下线后调用
func (s *Service) Forget(ctx context.Context, id string) int {
	s.mu.Lock()
	s.epoch++
	s.removed[id] = s.now().Add(s.tombstoneTTL).UnixMilli()
	s.mu.Unlock()
	if s.cache == nil {
		return 0
	}
	n := s.cache.EvictWhere(ctx, func(list []spot.Spot) bool {
		for _, sp := range list {
			if sp.ID == id {
				return true
			}
		}
		return false
	})
	logger.L().Debug("discovery_forget", "id", id, "evicted", n)
	return n
}
