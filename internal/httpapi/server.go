// Package httpapi 提供用户名登记、历史消息查询等 HTTP 接口，并挂载 WebSocket 入口。
package httpapi

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/log"
)

// Config 描述 HTTP 层配置。
type Config struct {
	// AllowedOrigins 为 CORS 允许的来源。
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	// EnablePprof 为 true 时在 /debug 下挂载 pprof。
	EnablePprof bool `mapstructure:"enable_pprof" yaml:"enable_pprof" json:"enable_pprof"`
}

// DefaultAllowedOrigins 为默认的 CORS 来源列表。
var DefaultAllowedOrigins = []string{
	"https://next-chat-app-client.vercel.app",
	"http://localhost:3000",
}

// Stats 提供 /health 需要的运行时计数。
type Stats interface {
	SessionCount() int
	OnlineCount() int
}

// Deps 是 HTTP 层依赖的组件。
type Deps struct {
	Store store.Store
	// WS 为 WebSocket 接入处理器，WSPath 为其挂载路径。
	WS     http.Handler
	WSPath string
	Stats  Stats
	// Gatherer 为 /metrics 使用的指标来源，为 nil 时使用默认注册表。
	Gatherer prometheus.Gatherer
}

// Server 组装 chi 路由与各接口处理函数。
type Server struct {
	log.Binder

	cfg   Config
	deps  Deps
	users singleflight.Group
	proc  *process.Process
	mux   *chi.Mux
}

// NewServer 创建 HTTP 服务并注册全部路由。
func NewServer(cfg Config, deps Deps) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	if deps.WSPath == "" {
		deps.WSPath = "/ws"
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, deps: deps}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	} else {
		s.Logger().Warn("process stats unavailable", zap.Error(err))
	}
	s.mux = s.routes()
	return s
}

// ServeHTTP 实现 http.Handler。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.observe)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	if s.cfg.EnablePprof {
		r.Mount("/debug", chimw.Profiler())
	}

	r.Post("/saveUsername", s.saveUsername)
	r.Get("/chatUsers", s.listUsers)
	r.Get("/chatUsers/{username}", s.getUser)
	r.Get("/messages/{from}/{to}", s.listMessages)
	r.Delete("/messages/{id}", s.deleteMessage)

	if s.deps.WS != nil {
		r.Handle(s.deps.WSPath, s.deps.WS)
	}
	return r
}
