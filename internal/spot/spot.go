// 包 spot：附近摊位（Spot）的数据模型与生命周期规则
package spot

import (
	"errors"
	"fmt"
	"time"

	"spot-api/internal/geohash"
)

// 文档注释：生命周期常量
// 背景：摊位默认存活 2 小时，之后在发现结果中逻辑不可见；本地缓存 5 分钟有效。
// 约束：时间字段统一为 Unix 毫秒，0 表示已被强制下线。
const (
	DefaultTTL        = 2 * time.Hour
	CacheTTL          = 5 * time.Minute
	DefaultRadiusM    = 2000.0
	QueryLimit        = 30
	MaxImages         = 3
	AbuseThreshold    = 10
	LocationPrecision = 9
	CacheKeyPrecision = 5
	Collection        = "spots"
	GeohashField      = "location.geohash"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusLowStock  Status = "low_stock"
	StatusSoldOut   Status = "sold_out"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusLowStock, StatusSoldOut:
		return true
	}
	return false
}

type AbuseReason string

const (
	ReasonFraud              AbuseReason = "fraud"
	ReasonMisinformation     AbuseReason = "misinformation"
	ReasonInappropriateImage AbuseReason = "inappropriate_image"
	ReasonClosedPermanently  AbuseReason = "closed_permanently"
	ReasonOther              AbuseReason = "other"
)

func (r AbuseReason) Valid() bool {
	switch r {
	case ReasonFraud, ReasonMisinformation, ReasonInappropriateImage, ReasonClosedPermanently, ReasonOther:
		return true
	}
	return false
}

var (
	ErrInvalidStatus = errors.New("invalid spot status")
	ErrInvalidReason = errors.New("invalid abuse reason")
	ErrTooManyImages = errors.New("too many images")
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Geohash   string  `json:"geohash"`
}

type Image struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	PublicID     string `json:"publicId"`
	UploadedAt   int64  `json:"uploadedAt,omitempty"`
	UploadedBy   string `json:"uploadedBy,omitempty"`
	Type         string `json:"type,omitempty"`
}

// Comment 作为值存放在 Spot.Comments 中，按插入顺序排列
type Comment struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type Spot struct {
	ID                string              `json:"id"`
	Location          Location            `json:"location"`
	LocationName      string              `json:"locationName,omitempty"`
	Address           string              `json:"address,omitempty"`
	Description       string              `json:"description,omitempty"`
	PriceRange        string              `json:"priceRange,omitempty"`
	Status            Status              `json:"status"`
	LastStatusUpdate  int64               `json:"lastStatusUpdate"`
	Images            []Image             `json:"images"`
	CreatedAt         int64               `json:"createdAt"`
	CreatedBy         string              `json:"createdBy"`
	ReportCount       int                 `json:"reportCount"`
	LastReportedAt    int64               `json:"lastReportedAt"`
	IsSellerManaged   bool                `json:"isSellerManaged"`
	SellerContact     string              `json:"sellerContact,omitempty"`
	ExpiresAt         int64               `json:"expiresAt"`
	AbuseReportsCount map[AbuseReason]int `json:"abuseReportsCount,omitempty"`
	Comments          []Comment           `json:"comments,omitempty"`
}

// Report：状态上报，创建后不可变
type Report struct {
	ID         string  `json:"id"`
	SpotID     string  `json:"spotId"`
	Status     Status  `json:"status"`
	Note       string  `json:"note,omitempty"`
	Images     []Image `json:"images,omitempty"`
	ReportedBy string  `json:"reportedBy"`
	ReportedAt int64   `json:"reportedAt"`
	IsVerified bool    `json:"isVerified"`
	ExpiresAt  int64   `json:"expiresAt"`
}

// AbuseReport：滥用举报，创建后不可变
type AbuseReport struct {
	ID         string      `json:"id"`
	SpotID     string      `json:"spotId"`
	Reason     AbuseReason `json:"reason"`
	Note       string      `json:"note,omitempty"`
	ReportedBy string      `json:"reportedBy"`
	ReportedAt int64       `json:"reportedAt"`
}

// Draft：创建摊位时调用方提供的字段，其余字段由 New 推导
type Draft struct {
	Latitude        float64
	Longitude       float64
	LocationName    string
	Address         string
	Description     string
	PriceRange      string
	Images          []Image
	CreatedBy       string
	IsSellerManaged bool
	SellerContact   string
}

// 文档注释：构造新摊位
// 背景：geohash 固定 9 位精度写入 location.geohash 作为范围索引键；expiresAt = createdAt + ttl。
// 约束：坐标非法返回 ErrInvalidCoordinate；图片最多 3 张；ttl<=0 时使用默认 2 小时。
func New(d Draft, now time.Time, ttl time.Duration) (Spot, error) {
	if len(d.Images) > MaxImages {
		return Spot{}, fmt.Errorf("%w: %d > %d", ErrTooManyImages, len(d.Images), MaxImages)
	}
	h, err := geohash.Encode(d.Latitude, d.Longitude, LocationPrecision)
	if err != nil {
		return Spot{}, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	created := now.UnixMilli()
	images := d.Images
	if images == nil {
		images = []Image{}
	}
	return Spot{
		Location:         Location{Latitude: d.Latitude, Longitude: d.Longitude, Geohash: h},
		LocationName:     d.LocationName,
		Address:          d.Address,
		Description:      d.Description,
		PriceRange:       d.PriceRange,
		Status:           StatusAvailable,
		LastStatusUpdate: created,
		Images:           images,
		CreatedAt:        created,
		CreatedBy:        d.CreatedBy,
		IsSellerManaged:  d.IsSellerManaged,
		SellerContact:    d.SellerContact,
		ExpiresAt:        ExpiryFrom(created, ttl),
	}, nil
}

// ExpiryFrom：createdAt(ms) + ttl
func ExpiryFrom(createdAtMs int64, ttl time.Duration) int64 {
	return createdAtMs + ttl.Milliseconds()
}

// IsLive：expiresAt > now 时可被发现
func (s Spot) IsLive(now time.Time) bool { return s.ExpiresAt > now.UnixMilli() }

// AbuseCount：缺失的原因计为 0
func (s Spot) AbuseCount(r AbuseReason) int {
	if s.AbuseReportsCount == nil {
		return 0
	}
	return s.AbuseReportsCount[r]
}

// DistanceKm：到给定中心的球面距离
func (s Spot) DistanceKm(lat, lng float64) float64 {
	return geohash.Distance(lat, lng, s.Location.Latitude, s.Location.Longitude)
}

// 文档注释：状态上报合并（最后写入者胜出）
// 背景：以 reportedAt 判断先后，仅当不早于当前 lastStatusUpdate 时更新状态；计数与最近上报时间总是刷新。
// 约束：不修改 expiresAt；不防御乱序投递，时间戳由调用方提供。
// 返回：需要写回文档库的字段集合（点号路径）。
func ApplyReport(s Spot, r Report) (Spot, map[string]any) {
	fields := map[string]any{
		"reportCount":    s.ReportCount + 1,
		"lastReportedAt": r.ReportedAt,
	}
	s.ReportCount++
	s.LastReportedAt = r.ReportedAt
	if r.ReportedAt >= s.LastStatusUpdate {
		s.Status = r.Status
		s.LastStatusUpdate = r.ReportedAt
		fields["status"] = string(r.Status)
		fields["lastStatusUpdate"] = r.ReportedAt
	}
	return s, fields
}

// FilterByStatus：status 为空或 "all" 时原样返回
func FilterByStatus(spots []Spot, status string) []Spot {
	if status == "" || status == "all" {
		return spots
	}
	out := make([]Spot, 0, len(spots))
	for _, s := range spots {
		if string(s.Status) == status {
			out = append(out, s)
		}
	}
	return out
}
