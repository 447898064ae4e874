package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/chat-relay/backend/internal/middleware"
	chatModel "github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	chatService "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// Deps 路由依赖的核心服务
type Deps struct {
	Chat           *chatService.Service
	Sessions       *sessionService.Service
	Events         *bus.EventBus
	Auth           *auth.Authenticator
	RequireAuth    bool
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))
	if deps.Auth != nil {
		r.Use(deps.Auth.Middleware(logger.Named("auth")))
	}

	chatHandler := chat.New(deps.Chat)
	sessionHandler := session.New(deps.Sessions, deps.Events, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get(auth.SignInPath, func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"message":       "Sign in to start chatting",
			"authenticated": auth.FromContext(r.Context()) != nil,
		})
	})

	r.With(auth.RedirectToSignIn).Get("/", handleBootstrap(deps.Sessions))

	r.Route("/api", func(api chi.Router) {
		// 聊天代理：AUTH_REQUIRED=false 时允许匿名访问
		api.Group(func(g chi.Router) {
			if deps.RequireAuth {
				g.Use(auth.RequireUser)
			}
			chatHandler.RegisterRoutes(g)
		})

		// 会话列表始终需要登录
		api.Group(func(g chi.Router) {
			g.Use(auth.RequireUser)
			sessionHandler.RegisterRoutes(g)
		})
	})

	return r
}

// handleBootstrap 返回聊天页初始化所需的数据：当前用户、今日会话和固定文案。
func handleBootstrap(sessions *sessionService.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.FromContext(r.Context())

		today, err := sessions.Today(r.Context(), user.Email)
		if err != nil {
			utils.RespondAppError(w, err, "Failed to load chat")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"user":      user,
			"sessionId": today.ID,
			"greeting":  chatModel.Greeting,
			"apology":   chatModel.Apology,
		})
	}
}
