package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"meetlink-backend/internal/auth"
	"meetlink-backend/internal/config"
	"meetlink-backend/internal/handler"
	"meetlink-backend/internal/realtime"
	"meetlink-backend/internal/service"
	"meetlink-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	authHandler     *handler.AuthHandler
	meetingHandler  *handler.MeetingHandler
	chatHandler     *handler.ChatHandler
	chatWSHandler   *handler.ChatWSHandler
	statusWSHandler *handler.StatusWSHandler
	jwtManager      *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB, channel *realtime.Channel) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "MeetLink Gateway",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
	)

	meetingStore := store.NewMeetingStore(db, cfg.Meeting.LinkExpiry)
	chatStore := store.NewChatStore(db)
	meetingService := service.NewMeetingService(meetingStore, channel, cfg)
	chatService := service.NewChatService(chatStore, channel)

	return &Server{
		app:             app,
		cfg:             cfg,
		authHandler:     handler.NewAuthHandler(jwtManager, cfg.Auth.AccessTokenExpiry),
		meetingHandler:  handler.NewMeetingHandler(meetingService),
		chatHandler:     handler.NewChatHandler(chatService),
		chatWSHandler:   handler.NewChatWSHandler(chatService),
		statusWSHandler: handler.NewStatusWSHandler(channel),
		jwtManager:      jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", handler.HealthCheck)

	// Rate Limiter (링크 추측 방지)
	linkLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Rate Limiter (토큰 발급 남용 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	authRequired := auth.AuthMiddleware(s.jwtManager)

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/guest", authLimiter, s.authHandler.GuestLogin)

	// Meeting 라우트 그룹 (인증 필요)
	meetingGroup := s.app.Group("/api/meetings", authRequired)
	meetingGroup.Post("/", s.meetingHandler.CreateMeeting)
	meetingGroup.Get("/:id", s.meetingHandler.GetMeeting)
	meetingGroup.Post("/:id/end", s.meetingHandler.EndMeeting)
	meetingGroup.Post("/:id/leave", s.meetingHandler.LeaveMeeting)

	// Chat 라우트 (미팅 하위)
	meetingGroup.Get("/:id/chat", s.chatHandler.GetHistory)
	meetingGroup.Post("/:id/chat", s.chatHandler.SendMessage)

	// Link 라우트 그룹: 검증은 소비하지 않으므로 인증 없이 허용, 입장은 인증 필요
	linkGroup := s.app.Group("/api/links", linkLimiter)
	linkGroup.Get("/:token", s.meetingHandler.ValidateLink)
	linkGroup.Post("/:token/join", authRequired, s.meetingHandler.JoinMeeting)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 미팅 상태 엔드포인트 (종료 신호 푸시)
	s.app.Get("/ws/meetings/:id/status", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, err := c.ParamsInt("id"); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.Next()
	}, websocket.New(s.statusWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))

	// WebSocket 채팅 엔드포인트
	s.app.Get("/ws/meetings/:id/chat", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿠키 또는 쿼리에서 JWT 토큰 추출
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		if _, err := c.ParamsInt("id"); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("claims", claims)
		return c.Next()
	}, websocket.New(s.chatWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 MeetLink Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("📡 Status endpoint: ws://localhost%s/ws/meetings/:id/status", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
