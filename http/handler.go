package http

import (
	"net/http"
	"sort"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/hagall-spatial/models"
	"github.com/aukilabs/hagall-spatial/modules/dagaz"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/segmentio/encoding/json"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithCORS allows browsers from any origin to call the wrapped handler
// and answers preflight requests directly.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// SessionDebugInfo is the spatial state of a session.
type SessionDebugInfo struct {
	SessionID    string                  `json:"session_id"`
	SessionUUID  string                  `json:"session_uuid"`
	AppKey       string                  `json:"app_key,omitempty"`
	Participants int                     `json:"participants"`
	EntityIndex  spatial.Stats           `json:"entity_index"`
	GroundPlanes *dagaz.SpatialDebugInfo `json:"ground_planes,omitempty"`
}

// HandleSpatialDebug lists the entity octree stats and the dagaz partition of
// every running session, ordered by session id.
func HandleSpatialDebug(sessions *models.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := sessions.List()
		sort.Slice(list, func(i, j int) bool {
			return list[i].ID < list[j].ID
		})

		infos := make([]SessionDebugInfo, 0, len(list))
		for _, s := range list {
			info := SessionDebugInfo{
				SessionID:    sessions.GlobalSessionID(s.ID),
				SessionUUID:  s.SessionUUID,
				AppKey:       s.AppKey,
				Participants: s.ParticipantCount(),
				EntityIndex:  s.EntityIndexStats(),
			}

			if state, ok := s.ModuleState((&dagaz.Module{}).Name()); ok {
				if dagazState, ok := state.(*dagaz.State); ok {
					debugInfo := dagazState.DebugInfo()
					info.GroundPlanes = &debugInfo
				}
			}
			infos = append(infos, info)
		}

		b, err := json.Marshal(infos)
		if err != nil {
			logs.WithTag("path", r.URL.Path).
				Error(errors.New("encoding spatial debug info failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}
