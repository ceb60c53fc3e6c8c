// Package app はアプリケーションの初期化と起動モードの振り分けを提供する。
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/voicegate/internal/audit"
	"github.com/hitoshi/voicegate/internal/challenge"
	"github.com/hitoshi/voicegate/internal/config"
	"github.com/hitoshi/voicegate/internal/database"
	"github.com/hitoshi/voicegate/internal/enrollment"
	"github.com/hitoshi/voicegate/internal/handler"
	"github.com/hitoshi/voicegate/internal/logger"
	"github.com/hitoshi/voicegate/internal/metrics"
	"github.com/hitoshi/voicegate/internal/middleware"
	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/oracle"
	"github.com/hitoshi/voicegate/internal/phrase"
	"github.com/hitoshi/voicegate/internal/policy"
	"github.com/hitoshi/voicegate/internal/repository"
	"github.com/hitoshi/voicegate/internal/verification"
	"github.com/hitoshi/voicegate/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandImportPhrases:
		return runImportPhrases(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	phraseRepo := repository.NewPostgresPhraseRepo(db)
	usageRepo := repository.NewPostgresPhraseUsageRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	voiceprintRepo := repository.NewPostgresVoiceprintRepo(db)
	verificationRepo := repository.NewPostgresVerificationRepo(db)
	attemptRepo := repository.NewPostgresAttemptRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)

	// 3. 監査とチャレンジ基盤の初期化
	auditor := audit.NewEnforcer(attemptRepo, auditRepo)
	catalog := phrase.NewCatalog(phraseRepo, usageRepo, cfg.PhraseExclusionWindow)
	challengeSvc := challenge.NewService(challengeRepo, catalog, auditor, cfg)

	// 4. オラクルクライアントの初期化
	oracleClient := oracle.NewHTTPClient(cfg.OracleURL, cfg.OracleTimeout, cfg.OracleAllowPrivate)

	// 5. ドメインサービスの初期化
	enrollmentSvc := enrollment.NewService(
		enrollmentRepo, voiceprintRepo, userRepo,
		challengeSvc, oracleClient, auditor, cfg,
	)
	policies := policy.DefaultRegistry(cfg)
	orchestrator := verification.NewOrchestrator(
		verificationRepo, challengeRepo, voiceprintRepo, userRepo,
		challengeSvc, oracleClient, policies, auditor, cfg,
	)

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitVerify),
	)

	deps := &handler.RouterDeps{
		ClientAPIKeys:     cfg.ClientAPIKeys,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		EnrollmentService:   enrollmentSvc,
		VerificationService: orchestrator,
		ChallengeService:    challengeSvc,
		HistoryService:      enrollmentSvc,
		AuditService:        auditor,
		UserRepo:            userRepo,

		Collector:      collector,
		MetricsHandler: metrics.SetupMetricsRoute(registry),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	rateLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れデータの掃除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	phraseRepo := repository.NewPostgresPhraseRepo(db)
	usageRepo := repository.NewPostgresPhraseUsageRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	voiceprintRepo := repository.NewPostgresVoiceprintRepo(db)
	attemptRepo := repository.NewPostgresAttemptRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)

	// 3. 掃除対象サービスの初期化
	// ワーカーはオラクルを呼ばないが、登録サービスの構築には依存として必要
	auditor := audit.NewEnforcer(attemptRepo, auditRepo)
	catalog := phrase.NewCatalog(phraseRepo, usageRepo, cfg.PhraseExclusionWindow)
	challengeSvc := challenge.NewService(challengeRepo, catalog, auditor, cfg)
	oracleClient := oracle.NewHTTPClient(cfg.OracleURL, cfg.OracleTimeout, cfg.OracleAllowPrivate)
	enrollmentSvc := enrollment.NewService(
		enrollmentRepo, voiceprintRepo, userRepo,
		challengeSvc, oracleClient, auditor, cfg,
	)

	// 4. メトリクスと掃除ジョブの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sweepJob := sweep.NewSweepJob(
		challengeSvc, enrollmentSvc, auditRepo,
		collector, slog.Default(), cfg.AuditRetentionDays,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Int("audit_retention_days", cfg.AuditRetentionDays),
	)

	// 掃除ジョブをメインgoroutineで実行（ブロッキング）
	sweepJob.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runImportPhrases はフレーズカタログの取り込みを実行する。
// 引数で指定したファイルを1行1フレーズとして読み込む。
// 行が「難易度<TAB>本文」形式の場合は難易度を解釈し、それ以外はmediumとする。
func runImportPhrases(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: import-phrases <file> [language]")
	}
	path := args[0]
	language := cfg.DefaultLanguage
	if len(args) > 1 {
		language = args[1]
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open phrase file: %w", err)
	}
	defer f.Close()

	importer := phrase.NewImporter(
		repository.NewPostgresPhraseRepo(db),
		cfg.PhraseMinChars, cfg.PhraseMaxChars,
	)

	var imported, skipped, failed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		text := line
		difficulty := model.DifficultyMedium
		if before, after, found := strings.Cut(line, "\t"); found {
			d := model.Difficulty(strings.TrimSpace(before))
			if model.ValidDifficulty(d) {
				difficulty = d
				text = strings.TrimSpace(after)
			}
		}

		_, created, err := importer.Import(context.Background(), text, language, difficulty)
		if err != nil {
			failed++
			slog.Warn("phrase import rejected",
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			imported++
		} else {
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read phrase file: %w", err)
	}

	slog.Info("phrase import completed",
		slog.String("language", language),
		slog.Int("imported", imported),
		slog.Int("skipped_duplicates", skipped),
		slog.Int("rejected", failed),
	)

	if failed > 0 {
		return fmt.Errorf("phrase import finished with %d rejected lines", failed)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
