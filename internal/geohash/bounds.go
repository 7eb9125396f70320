package geohash

import (
	"fmt"
	"math"
)

// 文档注释：半径查询的 geohash 范围覆盖
// 背景：索引只支持一维字符串范围查询，圆形检索被近似为中心 3×3 网格单元；
// 每个单元对应一段前缀区间 [Start, End]，区间的并集覆盖整个圆（只允许多查，不允许漏查）。
// 约束：网格精度按半径选取，使单元边长不小于外接框半宽；圆覆盖极点或经度跨度达到半圈时，
// 改为按经度单元逐列采样整条纬度带（见 polarCells），区间数随之增加但仍有上限。
type Range struct {
	Start string
	End   string
}

// Contains：hash 是否落在闭区间内（与文档库 startAt/endAt 语义一致）
func (r Range) Contains(hash string) bool { return hash >= r.Start && hash <= r.End }

const (
	metersPerDegreeLat = 110574.0
	earthEqRadius      = 6378137.0
	earthMeanRadius    = 6371000.0
	earthE2            = 0.00669447819799
	epsilon            = 1e-12

	// 极区纬度带最多 2^4 列经度单元，单元约 22.5°×11.25°
	polarMaxBits = 8
)

// box：圆的外接经纬度框；polar 表示框在经度方向已无法用三列样本表示
type box struct {
	lat, lng     float64
	north, south float64
	latDeg       float64
	lngDeg       float64
	polar        bool
}

func boundingBox(lat, lng, radiusM float64) box {
	b := box{lat: lat, lng: lng, latDeg: radiusM / metersPerDegreeLat}
	b.north = math.Min(90, lat+b.latDeg)
	b.south = math.Max(-90, lat-b.latDeg)
	sinDelta := math.Sin(radiusM / earthMeanRadius)
	cosLat := math.Cos(lat * math.Pi / 180)
	if b.north >= 90 || b.south <= -90 || sinDelta >= cosLat {
		b.polar = true
		b.lngDeg = 360
		return b
	}
	// 椭球近似与球面切线跨度取大者，保证与 Distance（球面）判定一致
	sphere := math.Asin(sinDelta/cosLat) * 180 / math.Pi
	b.lngDeg = math.Max(sphere, math.Max(metersToLongitudeDegrees(radiusM, b.north), metersToLongitudeDegrees(radiusM, b.south)))
	if b.lngDeg >= 180 {
		b.polar = true
		b.lngDeg = 360
	}
	return b
}

// QueryBounds：计算覆盖 (lat,lng) 半径 radiusM 米范围的去重区间集合，顺序稳定
func QueryBounds(lat, lng, radiusM float64) ([]Range, error) {
	if err := Validate(lat, lng); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusM) || radiusM <= 0 {
		return nil, fmt.Errorf("%w: radius=%v", ErrInvalidCoordinate, radiusM)
	}
	b := boundingBox(lat, lng, radiusM)
	queryBits := boundingBoxBits(b)
	precision := int(math.Ceil(float64(queryBits) / BitsPerChar))
	out := make([]Range, 0, 9)
	seen := make(map[Range]bool, 9)
	for _, p := range boundingBoxCoordinates(b, queryBits) {
		h, err := Encode(p[0], p[1], precision)
		if err != nil {
			return nil, err
		}
		r := cellRange(h, queryBits)
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// 单元格前缀区间：bits 不是 5 的整数倍时，末字符只保留高位，区间扩展到整个粗粒度单元
func cellRange(hash string, bits int) Range {
	precision := int(math.Ceil(float64(bits) / BitsPerChar))
	if len(hash) < precision {
		return Range{Start: hash, End: hash + "~"}
	}
	h := hash[:precision]
	base := h[:len(h)-1]
	last := indexOf(h[len(h)-1])
	significant := bits - len(base)*BitsPerChar
	unused := BitsPerChar - significant
	start := (last >> unused) << unused
	end := start + (1 << unused)
	if end > 31 {
		return Range{Start: base + string(base32[start]), End: base + "~"}
	}
	return Range{Start: base + string(base32[start]), End: base + string(base32[end])}
}

// 采样点：纬度取中心、北缘、南缘；经度常规取中心与东西两缘，极区取每一列经度单元的中线
func boundingBoxCoordinates(b box, bits int) [][2]float64 {
	var lngs []float64
	if b.polar {
		lngs = polarCells(bits)
	} else {
		lngs = []float64{b.lng, wrapLongitude(b.lng - b.lngDeg), wrapLongitude(b.lng + b.lngDeg)}
	}
	out := make([][2]float64, 0, 3*len(lngs))
	for _, lat := range []float64{b.lat, b.north, b.south} {
		for _, lng := range lngs {
			out = append(out, [2]float64{lat, lng})
		}
	}
	return out
}

// polarCells：bits 位精度下所有经度单元的中线（经度占 ceil(bits/2) 位）
func polarCells(bits int) []float64 {
	n := 1 << ((bits + 1) / 2)
	step := 360 / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = -180 + step*(float64(i)+0.5)
	}
	return out
}

// 交错编码下 bits 位中纬度占 floor(bits/2)、经度占 ceil(bits/2)；
// 两个方向的单元边长都不得小于外接框半宽
func boundingBoxBits(b box) int {
	m := MaxBits
	if b.latDeg < 180 {
		m = min(m, int(math.Floor(math.Log2(180/b.latDeg)))*2)
	} else {
		m = 0
	}
	if b.polar {
		m = min(m, polarMaxBits)
	} else {
		m = min(m, int(math.Floor(math.Log2(360/b.lngDeg)))*2-1)
	}
	return max(1, m)
}

// 给定纬度上 distance 米对应的经度跨度（WGS84 椭球近似），上限 360°
func metersToLongitudeDegrees(distance, lat float64) float64 {
	rad := lat * math.Pi / 180
	num := math.Cos(rad) * earthEqRadius * math.Pi / 180
	denom := 1 / math.Sqrt(1-earthE2*math.Sin(rad)*math.Sin(rad))
	deltaDeg := num * denom
	if deltaDeg < epsilon {
		if distance > 0 {
			return 360
		}
		return 0
	}
	return math.Min(360, distance/deltaDeg)
}

func wrapLongitude(lng float64) float64 {
	if lng <= 180 && lng >= -180 {
		return lng
	}
	adjusted := lng + 180
	if adjusted > 0 {
		return math.Mod(adjusted, 360) - 180
	}
	return 180 - math.Mod(-adjusted, 360)
}
