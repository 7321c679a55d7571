// Точка входа storefront — HTTP API витрины.
// Загружает конфигурацию, выбирает хранилище счётчиков попыток
// (память + JSON-файл или PostgreSQL), поднимает OTP-вход, сессии,
// выпуск токенов, чтение фида и приём отзывов, запускает HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gostorefront/internal/api/handlers"
	"github.com/bigkaa/gostorefront/internal/api/middleware"
	"github.com/bigkaa/gostorefront/internal/config"
	"github.com/bigkaa/gostorefront/internal/database"
	"github.com/bigkaa/gostorefront/internal/i18n"
	"github.com/bigkaa/gostorefront/internal/otp"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/repository"
	"github.com/bigkaa/gostorefront/internal/server"
	"github.com/bigkaa/gostorefront/internal/service"
	"github.com/bigkaa/gostorefront/internal/session"
	"github.com/bigkaa/gostorefront/internal/storage/corpus"
	"github.com/bigkaa/gostorefront/internal/token"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("storefront запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("attempt_store", cfg.AttemptStore),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Сервис завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("storefront остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилища счётчиков попыток и профилей
	checkers := map[string]handlers.ReadinessChecker{
		"reviews": handlers.DirChecker{Dir: cfg.ReviewsDir},
	}
	var (
		ephemeral ratelimit.Store
		durable   ratelimit.Store
		profiles  session.ProfileStore
	)

	switch cfg.AttemptStore {
	case config.AttemptStorePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		attempts := repository.NewAttemptRepository(repository.NewTxRunner(pool), pool)
		ephemeral, durable = attempts, attempts
		profiles = repository.NewProfileRepository(pool)
		checkers["postgresql"] = database.NewReadinessChecker(pool)

		stop, err := startDephealth(ctx, cfg, pool, logger)
		if err != nil {
			return err
		}
		defer stop()
	default:
		fileStore, err := ratelimit.NewFileStore(cfg.AttemptFile)
		if err != nil {
			return err
		}
		logger.Info("Счётчик отзывов хранится в файле", slog.String("path", fileStore.Path()))
		ephemeral, durable = ratelimit.NewMemoryStore(), fileStore
		profiles = session.NewMemoryProfileStore()
	}

	gate := ratelimit.NewGate(ratelimit.Limits{
		GenerationWindow:  cfg.OTPGenerationWindow,
		GenerationMax:     cfg.OTPGenerationMax,
		VerifyMaxFailures: cfg.OTPVerifyMaxFailures,
		VerifyLockout:     cfg.OTPVerifyLockout,
		ReviewWindow:      cfg.ReviewWindow,
		ReviewMax:         cfg.ReviewMax,
	}, ephemeral, durable, logger)

	// 4. Локализация
	bundle, err := i18n.Load(cfg.DefaultLang, logger)
	if err != nil {
		return err
	}

	// 5. OTP и сессии
	otpSvc := otp.NewService(gate, otp.NewLogSender(logger), otp.Options{TTL: cfg.OTPTTL}, logger)
	defer otpSvc.Close()

	sessions := session.NewManager(cfg.SessionDuration, profiles, nil, logger)
	defer sessions.Close()

	// 6. Ключ подписи и издатель токенов
	key, err := token.LoadKey(cfg.SigningKeyFile, logger)
	if err != nil {
		return err
	}
	issuer, err := token.NewIssuer(ctx, key, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	logger.Info("Ключ подписи токенов загружен", slog.String("kid", issuer.KeyID()))

	// 7. Фид и корпус отзывов
	feed := service.NewFeedService(cfg.FeedFile, service.FeedOptions{
		CacheTTL: cfg.FeedCacheTTL,
		Retries:  cfg.FeedReadRetries,
	}, logger)
	store, err := corpus.New(cfg.ReviewsDir)
	if err != nil {
		return err
	}

	// 8. Handlers и middleware
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		OTP:      otpSvc,
		Gate:     gate,
		Sessions: sessions,
		Tokens:   issuer,
		Feed:     feed,
		Corpus:   store,
		Bundle:   bundle,
	}, logger)
	jwtAuth := middleware.NewJWTAuth(issuer.Keyfunc(), issuer.Issuer(), sessions, bundle, 5*time.Second, logger)

	router := server.NewRouter(server.Routes{
		API:    apiHandler,
		Health: handlers.NewHealthHandler(checkers),
		Auth:   jwtAuth.Middleware(),
		Middlewares: []func(http.Handler) http.Handler{
			chimw.RequestID,
			middleware.MetricsMiddleware(),
			middleware.RequestLogger(logger),
			bundle.Middleware(),
		},
	})

	// 9. Запуск сервера (блокирующий вызов с graceful shutdown)
	return server.New(cfg, logger, router).Run(ctx)
}

// startDephealth запускает мониторинг PostgreSQL через topologymetrics.
// Возвращает функцию остановки.
func startDephealth(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (func(), error) {
	// Адаптер pgxpool → *sql.DB: проверка идёт через существующий пул соединений
	pgDB := stdlib.OpenDBFromPool(pool)

	dh, err := service.NewDephealthService(
		"storefront",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL("postgres"),
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		_ = pgDB.Close()
		return nil, err
	}
	if err := dh.Start(ctx); err != nil {
		_ = pgDB.Close()
		return nil, err
	}
	return func() {
		dh.Stop()
		_ = pgDB.Close()
	}, nil
}
