package api

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取客户端 IP（用于按 IP 估算检索中心）
// 背景：依次尝试显式 ip 参数、X-Forwarded-For 首跳、CF-Connecting-IP、X-Real-IP、Forwarded for=，最后回退 RemoteAddr。
// 约束：候选值必须能解析为 IP 才被采用；头部可伪造，只影响近似中心，不用于鉴权。
func getClientIP(r *http.Request) string {
	h := r.Header
	candidates := []string{
		r.URL.Query().Get("ip"),
		firstHop(h.Get("x-forwarded-for")),
		h.Get("cf-connecting-ip"),
		h.Get("x-real-ip"),
		forwardedFor(h.Get("forwarded")),
	}
	for _, c := range candidates {
		if ip := parseIP(c); ip != "" {
			return ip
		}
	}
	return parseIP(r.RemoteAddr)
}

func firstHop(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// forwardedFor：RFC 7239 Forwarded 头中第一个 for= 的值
func forwardedFor(v string) string {
	for _, elem := range strings.Split(v, ",") {
		for _, pair := range strings.Split(elem, ";") {
			k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && strings.EqualFold(k, "for") {
				return strings.Trim(val, "\"")
			}
		}
	}
	return ""
}

// parseIP：接受纯 IP、host:port 与 [v6]:port
func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return ""
}
