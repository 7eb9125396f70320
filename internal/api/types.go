package api

import "spot-api/internal/spot"

// 文档注释：请求与返回结构（对外）
// 背景：统一对外序列化模型；摊位本体直接使用 spot.Spot 的 JSON 形态。
// 约束：字段稳定；新增字段需评估兼容性与前端依赖。
type nearbyResult struct {
	Lat     float64     `json:"lat"`
	Lng     float64     `json:"lng"`
	RadiusM float64     `json:"radius_m"`
	Approx  bool        `json:"approx_center"`
	Spots   []spot.Spot `json:"spots"`
}

type createSpotRequest struct {
	Latitude        float64      `json:"latitude"`
	Longitude       float64      `json:"longitude"`
	LocationName    string       `json:"locationName"`
	Address         string       `json:"address"`
	Description     string       `json:"description"`
	PriceRange      string       `json:"priceRange"`
	Images          []spot.Image `json:"images"`
	IsSellerManaged bool         `json:"isSellerManaged"`
	SellerContact   string       `json:"sellerContact"`
}

type reportRequest struct {
	Status     spot.Status  `json:"status"`
	Note       string       `json:"note"`
	Images     []spot.Image `json:"images"`
	ReportedAt int64        `json:"reportedAt"`
	IsVerified bool         `json:"isVerified"`
}

type abuseRequest struct {
	Reason spot.AbuseReason `json:"reason"`
	Note   string           `json:"note"`
}

type commentRequest struct {
	Text string `json:"text"`
	// Old 为修改/删除前的完整评论值（按值匹配模式下必填）
	Old *spot.Comment `json:"old,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}
