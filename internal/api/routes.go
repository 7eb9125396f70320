// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"spot-api/internal/discovery"
	"spot-api/internal/geohash"
	"spot-api/internal/iplocate"
	"spot-api/internal/logger"
	"spot-api/internal/moderation"
	"spot-api/internal/spot"
	"spot-api/internal/store"
)

// Deps：路由依赖；Locator 可为 nil（不做 IP 兜底）
type Deps struct {
	Discovery      *discovery.Service
	Moderation     *moderation.Service
	Locator        *iplocate.Locator
	DefaultRadiusM float64
	AdminToken     string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError：错误分类映射到 HTTP 状态；区间查询失败统一为 “could not load nearby results”
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, discovery.ErrQueryFailure):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: discovery.ErrQueryFailure.Error()})
	case errors.Is(err, geohash.ErrInvalidCoordinate),
		errors.Is(err, spot.ErrInvalidStatus),
		errors.Is(err, spot.ErrInvalidReason),
		errors.Is(err, spot.ErrTooManyImages):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, moderation.ErrCommentNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		logger.L().Error("api_internal_error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// userID：身份由上游认证层注入，本服务只记录
func userID(r *http.Request) string { return r.Header.Get("x-user-id") }

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	if d.DefaultRadiusM <= 0 {
		d.DefaultRadiusM = spot.DefaultRadiusM
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /spots/nearby", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lat, okLat := parseFloat(q.Get("lat"))
		lng, okLng := parseFloat(q.Get("lng"))
		approx := false
		if !okLat || !okLng {
			var ok bool
			lat, lng, ok = d.Locator.Locate(getClientIP(r))
			if !ok {
				badRequest(w, "lat and lng are required")
				return
			}
			approx = true
		}
		radius := d.DefaultRadiusM
		if v, ok := parseFloat(q.Get("radius")); ok && v > 0 {
			radius = v
		}
		spots, err := d.Discovery.FetchSpots(r.Context(), discovery.Query{
			Lat: lat, Lng: lng, RadiusM: radius, ForceRefresh: q.Get("refresh") == "true",
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if q.Get("exact") == "true" {
			spots = discovery.WithinRadius(spots, lat, lng, radius)
		}
		spots = spot.FilterByStatus(spots, q.Get("status"))
		writeJSON(w, http.StatusOK, nearbyResult{Lat: lat, Lng: lng, RadiusM: radius, Approx: approx, Spots: spots})
	})

	mux.HandleFunc("GET /spots/{id}", func(w http.ResponseWriter, r *http.Request) {
		sp, err := d.Discovery.GetSpot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	})

	mux.HandleFunc("POST /spots", func(w http.ResponseWriter, r *http.Request) {
		var req createSpotRequest
		if err := decodeBody(w, r, &req); err != nil {
			badRequest(w, "invalid body")
			return
		}
		sp, err := d.Discovery.CreateSpot(r.Context(), spot.Draft{
			Latitude:        req.Latitude,
			Longitude:       req.Longitude,
			LocationName:    req.LocationName,
			Address:         req.Address,
			Description:     req.Description,
			PriceRange:      req.PriceRange,
			Images:          req.Images,
			CreatedBy:       userID(r),
			IsSellerManaged: req.IsSellerManaged,
			SellerContact:   req.SellerContact,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sp)
	})

	mux.HandleFunc("POST /spots/{id}/reports", func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if err := decodeBody(w, r, &req); err != nil {
			badRequest(w, "invalid body")
			return
		}
		id, err := d.Moderation.SubmitReport(r.Context(), r.PathValue("id"), spot.Report{
			Status:     req.Status,
			Note:       req.Note,
			Images:     req.Images,
			ReportedBy: userID(r),
			ReportedAt: req.ReportedAt,
			IsVerified: req.IsVerified,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	})

	mux.HandleFunc("GET /spots/{id}/reports", func(w http.ResponseWriter, r *http.Request) {
		reports, err := d.Moderation.ListReports(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	})

	mux.HandleFunc("POST /spots/{id}/abuse", func(w http.ResponseWriter, r *http.Request) {
		var req abuseRequest
		if err := decodeBody(w, r, &req); err != nil {
			badRequest(w, "invalid body")
			return
		}
		spotID := r.PathValue("id")
		snap, err := d.Discovery.GetSpot(r.Context(), spotID)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := d.Moderation.SubmitAbuseReport(r.Context(), spotID, snap, spot.AbuseReport{
			Reason:     req.Reason,
			Note:       req.Note,
			ReportedBy: userID(r),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	})

	mux.HandleFunc("POST /spots/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		var req commentRequest
		if err := decodeBody(w, r, &req); err != nil || req.Text == "" {
			badRequest(w, "text is required")
			return
		}
		c, err := d.Moderation.AddComment(r.Context(), r.PathValue("id"), spot.Comment{
			UserID:   userID(r),
			UserName: r.Header.Get("x-user-name"),
			Text:     req.Text,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	})

	mux.HandleFunc("PUT /spots/{id}/comments/{cid}", func(w http.ResponseWriter, r *http.Request) {
		var req commentRequest
		if err := decodeBody(w, r, &req); err != nil || req.Text == "" {
			badRequest(w, "text is required")
			return
		}
		old := spot.Comment{ID: r.PathValue("cid")}
		if req.Old != nil {
			old = *req.Old
		}
		updated := old
		updated.Text = req.Text
		updated.UpdatedAt = 0
		c, err := d.Moderation.UpdateComment(r.Context(), r.PathValue("id"), old, updated)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	mux.HandleFunc("DELETE /spots/{id}/comments/{cid}", func(w http.ResponseWriter, r *http.Request) {
		var req commentRequest
		_ = decodeBody(w, r, &req)
		c := spot.Comment{ID: r.PathValue("cid")}
		if req.Old != nil {
			c = *req.Old
		}
		if err := d.Moderation.DeleteComment(r.Context(), r.PathValue("id"), c); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// 管理端：显式触发本地缓存清扫（不自行调度）
	mux.HandleFunc("POST /cache/sweep", func(w http.ResponseWriter, r *http.Request) {
		t := r.Header.Get("x-admin-token")
		if t == "" || d.AdminToken == "" || subtle.ConstantTimeCompare([]byte(t), []byte(d.AdminToken)) != 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := d.Discovery.Sweep(r.Context())
		logger.L().Info("cache_sweep", "evicted", n)
		writeJSON(w, http.StatusOK, map[string]int{"evicted": n})
	})

	return mux
}
