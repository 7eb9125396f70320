// 包 iplocate：按访问者 IP 估算检索中心（GeoLite2/GeoIP2 City 库）
package iplocate

import (
	"net"

	"spot-api/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

// 文档注释：IP 定位器
// 背景：前端未提供定位权限时，用城市级坐标作为近似检索中心；精度为数公里级，只作兜底。
// 约束：未配置库文件时 Locator 为 nil，调用方需判空；查询失败或坐标为 0,0 视为未命中。
type Locator struct {
	db *geoip2.Reader
}

func Open(path string) (*Locator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("geoip_open_ok", "path", path)
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Locate：返回 (lat, lng, ok)
func (l *Locator) Locate(ip string) (float64, float64, bool) {
	if l == nil || l.db == nil {
		return 0, 0, false
	}
	p := net.ParseIP(ip)
	if p == nil {
		return 0, 0, false
	}
	rec, err := l.db.City(p)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip, "err", err)
		return 0, 0, false
	}
	lat, lng := rec.Location.Latitude, rec.Location.Longitude
	if lat == 0 && lng == 0 {
		return 0, 0, false
	}
	return lat, lng, true
}
