package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/middleware"
	"kptv-catchup/work/session"
	"kptv-catchup/work/types"
)

// Wrapper decorates every API handler, e.g. with CORS headers.
type Wrapper func(http.HandlerFunc) http.HandlerFunc

// RegisterRoutes adds the catalog and playback session API to router.
// wrap may be nil.
func RegisterRoutes(router *mux.Router, store *catalog.Store, sessions *session.Manager, wrap Wrapper) {
	if wrap == nil {
		wrap = func(h http.HandlerFunc) http.HandlerFunc { return h }
	}
	get := func(h http.HandlerFunc) http.HandlerFunc { return wrap(middleware.GzipMiddleware(h)) }

	router.HandleFunc("/api/channels", get(HandleChannels(store))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/channels/{uid:-?[0-9]+}", get(HandleChannel(store))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/channels/{uid:-?[0-9]+}/epg", get(HandleChannelEpg(store))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/groups", get(HandleGroups(store))).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/sessions", wrap(HandleStartSession(sessions))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}", get(HandleGetSession(sessions))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}", wrap(HandleCloseSession(sessions))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/live", wrap(HandleSessionLive(sessions))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/epg", wrap(HandleSessionEpg(sessions))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/times", get(HandleSessionTimes(sessions))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/length", get(HandleSessionLength(sessions))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions/{id}/seek", wrap(HandleSessionSeek(sessions))).Methods("POST", "OPTIONS")
}

// HandleChannels lists every channel of the current catalog.
func HandleChannels(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels := store.Channels()
		if channels == nil {
			channels = []types.Channel{}
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

// HandleChannel returns one channel by unique id.
func HandleChannel(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := strconv.Atoi(mux.Vars(r)["uid"])
		if err != nil {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		channel, ok := store.GetChannel(uid)
		if !ok {
			writeError(w, types.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, channel)
	}
}

// HandleGroups lists the channel groups of the current catalog.
func HandleGroups(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups := store.Groups()
		if groups == nil {
			groups = []types.ChannelGroup{}
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

// HandleChannelEpg returns the programmes of a channel between the optional
// start and end query parameters (UTC seconds).
func HandleChannelEpg(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := strconv.Atoi(mux.Vars(r)["uid"])
		if err != nil {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		start, err := queryInt64(r, "start", 0)
		if err != nil {
			writeError(w, err)
			return
		}
		end, err := queryInt64(r, "end", math.MaxInt64)
		if err != nil {
			writeError(w, err)
			return
		}
		if end < start {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		entries, err := store.GetEPGForChannel(uid, start, end)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []types.EpgEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type startSessionRequest struct {
	ChannelUID  int           `json:"channelUid"`
	Epg         *types.EpgTag `json:"epg,omitempty"`
	Timeshifted *bool         `json:"timeshifted,omitempty"`
}

// HandleStartSession opens a playback session. With an "epg" tag the session
// starts on that programme, otherwise it starts live.
func HandleStartSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		var (
			pb  *session.Playback
			err error
		)
		if req.Epg != nil {
			tag := *req.Epg
			if tag.ChannelUID == 0 {
				tag.ChannelUID = req.ChannelUID
			}
			pb, err = sessions.StartEpg(r.Context(), tag, req.Timeshifted)
		} else {
			pb, err = sessions.StartLive(r.Context(), req.ChannelUID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, pb)
	}
}

// HandleGetSession returns the current playback description of a session.
func HandleGetSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pb, err := sessions.Playback(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pb)
	}
}

// HandleSessionLive returns a session to live playback.
func HandleSessionLive(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pb, err := sessions.Live(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pb)
	}
}

type epgRequest struct {
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	Title       string `json:"title"`
	Timeshifted *bool  `json:"timeshifted,omitempty"`
}

// HandleSessionEpg moves a session to a programme picked from the guide.
func HandleSessionEpg(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req epgRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		tag := types.EpgTag{StartTime: req.StartTime, EndTime: req.EndTime, Title: req.Title}
		pb, err := sessions.PlayEpg(r.Context(), mux.Vars(r)["id"], tag, req.Timeshifted)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pb)
	}
}

// HandleSessionTimes reports the seekable window of a session.
func HandleSessionTimes(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		times, err := sessions.Times(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, times)
	}
}

// HandleSessionLength reports the length of the current catchup segment in
// player time units, -1 when unknown.
func HandleSessionLength(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		length, err := sessions.Length(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"length": length})
	}
}

type seekRequest struct {
	Position int64 `json:"position"` // milliseconds
	Whence   int   `json:"whence"`   // io.SeekStart or io.SeekCurrent
}

type seekResponse struct {
	Position int64  `json:"position"`
	URL      string `json:"url"`
}

// HandleSessionSeek moves the session cursor.
func HandleSessionSeek(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req seekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.ErrInvalidParameters)
			return
		}

		pos, url, err := sessions.Seek(mux.Vars(r)["id"], req.Position, req.Whence)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, seekResponse{Position: pos, URL: url})
	}
}

// HandleCloseSession ends a session.
func HandleCloseSession(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Close(mux.Vars(r)["id"]); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.ErrInvalidParameters
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} failed to encode response: %v", err)
	}
}

// writeError maps the error taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidParameters), errors.Is(err, types.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotImplemented):
		status = http.StatusNotImplemented
	}

	if status == http.StatusInternalServerError {
		logger.Error("{handlers/handlers - writeError} %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
