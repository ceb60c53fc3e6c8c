package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/voicegate/internal/metrics"
	"github.com/hitoshi/voicegate/internal/middleware"
	"github.com/hitoshi/voicegate/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	ClientAPIKeys     map[string]string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	EnrollmentService   EnrollmentServiceInterface
	VerificationService VerificationServiceInterface
	ChallengeService    ChallengeServiceInterface
	HistoryService      VoiceprintHistoryService
	AuditService        AuditServiceInterface
	UserRepo            repository.UserRepository

	// メトリクス
	Collector      metrics.MetricsCollector
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → ClientAuth → RateLimit(General)
//
// 認証系エンドポイント（録音の提出を伴うもの）にはさらに専用のレート制限を適用する。
// ヘルスチェック（/health）とメトリクス（/metrics）はクライアント認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	enrollHandler := NewEnrollmentHandler(deps.EnrollmentService, deps.Collector)
	verifyHandler := NewVerificationHandler(deps.VerificationService, deps.Collector)
	challengeHandler := NewChallengeHandler(deps.ChallengeService)
	userHandler := NewUserHandler(deps.UserRepo, deps.HistoryService)
	auditHandler := NewAuditHandler(deps.AuditService)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- クライアント認証が必要なルート ---
	// ミドルウェアスタック: ClientAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewClientAuthMiddleware(deps.ClientAPIKeys))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Post("/", userHandler.Create)
			r.Get("/{id}/voiceprints", userHandler.VoiceprintHistory)
			r.Get("/{id}/challenges", challengeHandler.ActiveChallenges)
		})

		// チャレンジ照会
		r.Get("/api/challenges/{id}/time-remaining", challengeHandler.TimeRemaining)

		// 監査履歴照会
		r.Get("/api/audit", auditHandler.History)

		// 声紋登録（録音の提出を伴うため専用レート制限を追加）
		r.Route("/api/enrollment", func(r chi.Router) {
			r.Post("/start", enrollHandler.Start)
			r.With(deps.RateLimiter.VerifyMiddleware()).Post("/add-sample", enrollHandler.AddSample)
			r.Post("/complete", enrollHandler.Complete)
		})

		// 声紋認証
		r.Route("/api/verification", func(r chi.Router) {
			r.Post("/start", verifyHandler.StartSession)
			r.With(deps.RateLimiter.VerifyMiddleware()).Post("/verify-phrase", verifyHandler.VerifyPhrase)
		})
	})

	return r
}
