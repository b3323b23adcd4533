package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/20SB/saba/internal/console/handler"
	"github.com/20SB/saba/internal/infra"
	"github.com/20SB/saba/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	agentHandler      *handler.AgentHandler      // /v1/agents
	approvalHandler   *handler.ApprovalHandler   // /v1/approvals (HITL)
	dashHandler       *handler.DashboardHandler  // /api/v1/dashboard
	transitionHandler *handler.TransitionHandler // /v1/transitions (журнал)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	agentH *handler.AgentHandler,
	approvalH *handler.ApprovalHandler,
	dashH *handler.DashboardHandler,
	transitionH *handler.TransitionHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		cfg:               cfg,
		authValidator:     validator,
		authHandler:       authH,
		agentHandler:      agentH,
		approvalHandler:   approvalH,
		dashHandler:       dashH,
		transitionHandler: transitionH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Жизненный цикл агентов: чтение синхронно, мутации — командами
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)    // Список всех агентов
			r.Post("/", s.agentHandler.Create) // Заявка на нового агента (202)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)          // Информация об агенте
				r.Post("/stop", s.agentHandler.Stop)    // Пауза (процесс/контейнер гасится)
				r.Post("/start", s.agentHandler.Start)  // Возобновление
				r.Delete("/", s.agentHandler.Delete)    // Удаление насовсем
			})
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на проверку
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject + Redis Publish
			})
		})

		// Журнал переходов состояний (Observability)
		r.Get("/v1/transitions", s.transitionHandler.GetTransitions)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
