package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/quizlive-api/internal/config"
	"github.com/yourusername/quizlive-api/internal/handler"
	"github.com/yourusername/quizlive-api/internal/middleware"
	pgRepo "github.com/yourusername/quizlive-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/quizlive-api/internal/repository/redis"
	"github.com/yourusername/quizlive-api/internal/service"
	"github.com/yourusername/quizlive-api/internal/service/gamesession"
	ws "github.com/yourusername/quizlive-api/internal/websocket"
	"github.com/yourusername/quizlive-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	quizRepo := pgRepo.NewQuizRepo(db)
	resultRepo := pgRepo.NewResultRepo(db)

	stateRepo, err := redisRepo.NewStateRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize StateRepo: %v", err)
		os.Exit(1)
	}

	// Конфигурация движка сессий
	engineCfg := gamesession.DefaultConfig()
	engineCfg.SessionTTL = time.Duration(cfg.Session.TTLHours) * time.Hour
	engineCfg.DefaultQuestionSeconds = cfg.Session.DefaultQuestionSeconds
	engineCfg.AnswerConcurrency = int64(cfg.Session.AnswerConcurrency)

	// Реестр соединений и движок сессий.
	// Реестр реализует Broadcaster для движка.
	registry := ws.NewRegistry()
	sessionService := service.NewSessionService(engineCfg, stateRepo, quizRepo, resultRepo, registry)
	quizService := service.NewQuizService(quizRepo)

	// Инициализируем обработчики
	wsHandler := handler.NewWSHandler(sessionService, registry, cfg.CORS.AllowedOrigins)
	multiplayerHandler := handler.NewMultiplayerHandler(sessionService, quizService)
	quizHandler := handler.NewQuizHandler(quizService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Инициализируем роутер Gin
	router := gin.Default()

	isProduction := gin.Mode() == gin.ReleaseMode

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// В development: доверяем localhost
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Викторины
		quizzes := api.Group("/quizzes")
		{
			quizzes.GET("", quizHandler.ListQuizzes)

			quizWithID := quizzes.Group("/:id")
			quizWithID.Use(middleware.ExtractUintParam("id", "quizID"))
			{
				quizWithID.GET("", quizHandler.GetQuiz)

				authedQuiz := quizWithID.Group("")
				authedQuiz.Use(authMiddleware.RequireAuth())
				{
					authedQuiz.DELETE("", quizHandler.DeleteQuiz)
				}
			}

			authedCreate := quizzes.Group("")
			authedCreate.Use(authMiddleware.RequireAuth())
			{
				authedCreate.POST("", quizHandler.CreateQuiz)
			}
		}

		// Живые сессии
		multiplayer := api.Group("/multiplayer")
		multiplayer.Use(rateLimiter.Limit(middleware.DefaultSessionRateLimitConfig()))
		{
			// Создание сессии: аутентификация плюс строгий лимит
			createSession := multiplayer.Group("/create-session")
			createSession.Use(authMiddleware.RequireAuth())
			createSession.Use(rateLimiter.Limit(middleware.StrictCreateRateLimitConfig()))
			{
				createSession.POST("", multiplayerHandler.CreateSession)
			}

			sessionWithCode := multiplayer.Group("/session/:code")
			sessionWithCode.Use(middleware.ExtractSessionCodeParam("code", "sessionCode"))
			{
				sessionWithCode.GET("", multiplayerHandler.GetSessionState)
				sessionWithCode.POST("/join", multiplayerHandler.JoinSession)
				sessionWithCode.POST("/validate", multiplayerHandler.ValidateSession)
				sessionWithCode.GET("/participants", multiplayerHandler.GetParticipants)
				sessionWithCode.GET("/result", multiplayerHandler.GetSessionResult)
				sessionWithCode.GET("/result/export", multiplayerHandler.ExportSessionResult)

				// Команды хоста
				hostCommands := sessionWithCode.Group("")
				hostCommands.Use(authMiddleware.RequireAuth())
				{
					hostCommands.POST("/start", multiplayerHandler.StartSession)
					hostCommands.POST("/end", multiplayerHandler.EndSession)
				}
			}

			multiplayer.GET("/results", multiplayerHandler.ListSessionResults)

			userScoped := multiplayer.Group("/user/:user_id")
			userScoped.Use(middleware.ExtractUserIDParam("user_id", "userID"))
			{
				userScoped.GET("/active-session", multiplayerHandler.GetActiveSession)
				userScoped.DELETE("/active-session", multiplayerHandler.ClearActiveSession)
			}
		}
	}

	// WebSocket маршрут: код сессии в пути, user_id/username в query
	router.GET("/api/ws/:code", wsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// Ждем сигнал остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis client: %v", err)
	}

	log.Println("Server exited properly")
}
