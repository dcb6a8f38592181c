package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 4 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

type saveUsernameRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse 为 /health 的返回体。
type HealthResponse struct {
	Status     string  `json:"status"`
	Sessions   int     `json:"sessions"`
	Online     int     `json:"online"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("privchat server is running"))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Goroutines: runtime.NumGoroutine(),
	}
	if s.deps.Stats != nil {
		resp.Sessions = s.deps.Stats.SessionCount()
		resp.Online = s.deps.Stats.OnlineCount()
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercentWithContext(r.Context()); err == nil {
			resp.CPUPercent = cpu
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveUsername(w http.ResponseWriter, r *http.Request) {
	var req saveUsernameRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, usernameError(err))
		return
	}

	_, created, err := s.deps.Store.FindOrCreateUser(r.Context(), req.Username)
	if err != nil {
		s.internalError(w, r, "save username failed", err)
		return
	}
	if created {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Username saved successfully"})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Username already exists, proceeding to chat"})
}

func usernameError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
		return "Username is too long"
	}
	return "Username is required"
}

// listUsers 合并同一时刻的并发列表查询。
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := s.users.Do("chatUsers", func() (any, error) {
		return s.deps.Store.ListUsers(ctx)
	})
	if err != nil {
		s.internalError(w, r, "list users failed", err)
		return
	}
	users := v.([]*store.User)
	if users == nil {
		users = []*store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := s.deps.Store.GetUser(r.Context(), username)
	switch {
	case errors.Is(err, merr.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case err != nil:
		s.internalError(w, r, "get user failed", err)
	default:
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	from, to := chi.URLParam(r, "from"), chi.URLParam(r, "to")
	msgs, err := s.deps.Store.FindMessages(r.Context(), from, to)
	if err != nil {
		s.internalError(w, r, "find messages failed", err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, err := s.deps.Store.DeleteMessage(r.Context(), id)
	switch {
	case err != nil:
		s.internalError(w, r, "delete message failed", err)
	case !found:
		writeError(w, http.StatusNotFound, "Message not found")
	default:
		writeJSON(w, http.StatusOK, messageResponse{Message: "Message deleted successfully"})
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.Logger().Error(msg,
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonAPI.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
