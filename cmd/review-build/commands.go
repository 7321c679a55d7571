package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/gostorefront/internal/config"
	"github.com/bigkaa/gostorefront/internal/reviews"
	"github.com/bigkaa/gostorefront/internal/storage/feedfile"
)

// errViolations — корпус не прошёл строгую проверку (нарушения уже выведены).
var errViolations = errors.New("корпус содержит некорректные отзывы")

// newRootCmd собирает дерево команд. Умолчания флагов берутся из RB_*.
func newRootCmd() (*cobra.Command, error) {
	cfg, err := config.LoadBuild()
	if err != nil {
		return nil, err
	}

	root := &cobra.Command{
		Use:           "review-build",
		Short:         "Сборка JSON-фида отзывов из markdown-файлов",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.ReviewsDir, "reviews-dir", cfg.ReviewsDir, "директория markdown-отзывов (RB_REVIEWS_DIR)")
	flags.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "путь публикуемого фида (RB_OUTPUT_FILE)")
	flags.StringVar(&cfg.BackupFile, "backup", cfg.BackupFile, "путь резервной копии фида (RB_BACKUP_FILE)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "уровень логирования: debug, info, warn, error (RB_LOG_LEVEL)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "формат логов: text, json (RB_LOG_FORMAT)")

	root.AddCommand(
		&cobra.Command{
			Use:   "build",
			Short: "Собрать и опубликовать фид",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBuild(cmd, cfg)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Проверить корпус по строгой схеме без публикации",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runValidate(cmd, cfg)
			},
		},
		newWatchCmd(cfg),
	)

	return root, nil
}

func newWatchCmd(cfg *config.BuildConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Собрать фид и пересобирать его при изменении корпуса",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, cfg)
		},
	}
	cmd.Flags().DurationVar(&cfg.WatchDebounce, "debounce", cfg.WatchDebounce, "окно объединения изменений (RB_WATCH_DEBOUNCE)")
	return cmd
}

func newBuilder(cfg *config.BuildConfig) (*reviews.Builder, *slog.Logger, error) {
	logger, err := config.SetupBuildLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	publisher := feedfile.NewPublisher(cfg.OutputFile, cfg.BackupFile)
	return reviews.NewBuilder(cfg.ReviewsDir, publisher, logger), logger, nil
}

func runBuild(cmd *cobra.Command, cfg *config.BuildConfig) error {
	builder, logger, err := newBuilder(cfg)
	if err != nil {
		return err
	}

	report, err := builder.Build(cmd.Context())
	if err != nil {
		logger.Error("Сборка завершилась ошибкой", slog.String("error", err.Error()))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Обработано: %d, ошибок: %d, предупреждений: %d, отзывов: %d, средняя оценка: %.1f\n",
		report.Processed, report.Errors, report.Warnings, report.TotalReviews, report.AverageRating)
	return nil
}

func runValidate(cmd *cobra.Command, cfg *config.BuildConfig) error {
	checked, violations, err := reviews.ValidateCorpus(cfg.ReviewsDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, v := range violations {
		fmt.Fprintln(out, v.String())
	}
	fmt.Fprintf(out, "Проверено файлов: %d, нарушений: %d\n", checked, len(violations))

	if len(violations) > 0 {
		return errViolations
	}
	return nil
}

func runWatch(cmd *cobra.Command, cfg *config.BuildConfig) error {
	builder, logger, err := newBuilder(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Первичная сборка: ошибка не останавливает наблюдение
	if _, err := builder.Build(ctx); err != nil {
		logger.Error("Первичная сборка не удалась", slog.String("error", err.Error()))
	}

	watcher, err := reviews.NewWatcher(builder, cfg.ReviewsDir, cfg.WatchDebounce, nil, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	watcher.Stop()
	return nil
}
