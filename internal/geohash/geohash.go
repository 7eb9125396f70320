// 包 geohash：轻量 geohash 编码（base32）与球面距离，供附近摊位检索的范围规划与缓存键使用
package geohash

import (
	"errors"
	"fmt"
	"math"
)

// 文档注释：geohash 字符表与精度上限
// 背景：与常见 geohash 实现保持一致的 base32 字母表（去掉 a/i/l/o），字符串按字典序即为空间前缀序。
// 约束：每字符 5 bit，最多 22 字符（110 bit）。
const (
	BitsPerChar  = 5
	MaxPrecision = 22
	MaxBits      = MaxPrecision * BitsPerChar
)

var base32 = []byte("0123456789bcdefghjkmnpqrstuvwxyz")

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidPrecision  = errors.New("invalid geohash precision")
)

// Validate：校验经纬度范围（lat ∈ [-90,90]，lng ∈ [-180,180]），NaN 视为非法
func Validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, lat, lng)
	}
	return nil
}

// 文档注释：经纬度编码为 geohash
// 背景：经度/纬度交替二分，每 5 bit 输出一个字符；同一输入恒得同一输出。
// 约束：坐标非法返回 ErrInvalidCoordinate；精度需在 [1,22]。
func Encode(lat, lng float64, precision int) (string, error) {
	if err := Validate(lat, lng); err != nil {
		return "", err
	}
	if precision < 1 || precision > MaxPrecision {
		return "", fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
	latInt := [2]float64{-90, 90}
	lngInt := [2]float64{-180, 180}
	bits := []int{16, 8, 4, 2, 1}
	bit := 0
	ch := 0
	even := true
	out := make([]byte, 0, precision)
	for len(out) < precision {
		if even {
			mid := (lngInt[0] + lngInt[1]) / 2
			if lng >= mid {
				ch |= bits[bit]
				lngInt[0] = mid
			} else {
				lngInt[1] = mid
			}
		} else {
			mid := (latInt[0] + latInt[1]) / 2
			if lat >= mid {
				ch |= bits[bit]
				latInt[0] = mid
			} else {
				latInt[1] = mid
			}
		}
		even = !even
		if bit < 4 {
			bit++
		} else {
			out = append(out, base32[ch])
			bit = 0
			ch = 0
		}
	}
	return string(out), nil
}

// MustEncode：仅用于已校验过的坐标
func MustEncode(lat, lng float64, precision int) string {
	s, err := Encode(lat, lng, precision)
	if err != nil {
		panic(err)
	}
	return s
}

// 球面距离（Haversine），返回千米；对称，同点为 0
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func indexOf(c byte) int {
	for i, b := range base32 {
		if b == c {
			return i
		}
	}
	return -1
}
