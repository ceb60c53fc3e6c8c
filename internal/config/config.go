// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Oracle（生体信号推論サービス）
	OracleURL          string
	OracleTimeout      time.Duration
	OracleAllowPrivate bool // クラスタ内のプライベートIPのオラクルを許可するか

	// Client認証
	ClientAPIKeys map[string]string

	// Challenge
	ChallengeTTLEasy      time.Duration
	ChallengeTTLMedium    time.Duration
	ChallengeTTLHard      time.Duration
	MaxActiveChallenges   int
	HourlyIssueCap        int
	UsedRetention         time.Duration // 消費済みチャレンジの保持期間
	ExpiredRetention      time.Duration // 期限切れ未使用チャレンジの保持期間
	PhraseExclusionWindow int           // フレーズ選定で除外する直近の提示件数

	// Phrase
	PhraseMinChars int
	PhraseMaxChars int

	// Enrollment
	RequiredSamples  int
	MinSNRDB         float64
	MinSampleSeconds float64
	EnrollmentMaxAge time.Duration // 放置セッションの打ち切りまでの期間
	DefaultLanguage  string

	// Verification
	RequiredPhrases  int
	MinSimilarity    float64
	MaxSpoof         float64
	PhraseThreshold  float64
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Audit
	AuditRetentionDays int

	// Worker
	SweepInterval time.Duration

	// Rate Limit（トランスポート層の外周ガード。req/min単位）
	RateLimitGeneral int
	RateLimitVerify  int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.OracleURL = os.Getenv("ORACLE_URL")
	if cfg.OracleURL == "" {
		missing = append(missing, "ORACLE_URL")
	}

	clientKeys := os.Getenv("CLIENT_API_KEYS")
	if clientKeys == "" {
		missing = append(missing, "CLIENT_API_KEYS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	keys, err := ParseClientAPIKeys(clientKeys)
	if err != nil {
		return nil, fmt.Errorf("invalid CLIENT_API_KEYS: %w", err)
	}
	cfg.ClientAPIKeys = keys

	// Optional fields with defaults
	cfg.OracleTimeout = getEnvDuration("ORACLE_TIMEOUT", 10*time.Second)
	cfg.OracleAllowPrivate = getEnvBool("ORACLE_ALLOW_PRIVATE", false)

	cfg.ChallengeTTLEasy = getEnvDuration("CHALLENGE_TTL_EASY", 60*time.Second)
	cfg.ChallengeTTLMedium = getEnvDuration("CHALLENGE_TTL_MEDIUM", 90*time.Second)
	cfg.ChallengeTTLHard = getEnvDuration("CHALLENGE_TTL_HARD", 120*time.Second)
	cfg.MaxActiveChallenges = getEnvInt("MAX_ACTIVE_CHALLENGES", 3)
	cfg.HourlyIssueCap = getEnvInt("HOURLY_ISSUE_CAP", 20)
	cfg.UsedRetention = getEnvDuration("CHALLENGE_USED_RETENTION", 24*time.Hour)
	cfg.ExpiredRetention = getEnvDuration("CHALLENGE_EXPIRED_RETENTION", 6*time.Hour)
	cfg.PhraseExclusionWindow = getEnvInt("PHRASE_EXCLUSION_WINDOW", 30)

	cfg.PhraseMinChars = getEnvInt("PHRASE_MIN_CHARS", 10)
	cfg.PhraseMaxChars = getEnvInt("PHRASE_MAX_CHARS", 120)

	cfg.RequiredSamples = getEnvInt("REQUIRED_SAMPLES", 3)
	cfg.MinSNRDB = getEnvFloat("MIN_SNR_DB", 15.0)
	cfg.MinSampleSeconds = getEnvFloat("MIN_SAMPLE_SECONDS", 2.0)
	cfg.EnrollmentMaxAge = getEnvDuration("ENROLLMENT_MAX_AGE", 24*time.Hour)
	cfg.DefaultLanguage = getEnvString("DEFAULT_LANGUAGE", "ja")

	cfg.RequiredPhrases = getEnvInt("REQUIRED_PHRASES", 3)
	cfg.MinSimilarity = getEnvFloat("MIN_SIMILARITY", 0.75)
	cfg.MaxSpoof = getEnvFloat("MAX_SPOOF", 0.5)
	cfg.PhraseThreshold = getEnvFloat("PHRASE_THRESHOLD", 0.7)
	cfg.LockoutThreshold = getEnvInt("LOCKOUT_THRESHOLD", 5)
	cfg.LockoutDuration = getEnvDuration("LOCKOUT_DURATION", 15*time.Minute)

	cfg.AuditRetentionDays = getEnvInt("AUDIT_RETENTION_DAYS", 365)

	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 10*time.Minute)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVerify = getEnvInt("RATE_LIMIT_VERIFY", 30)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ChallengeTTL は難易度に応じたチャレンジの有効期間を返す。
// 難易度が高いほどフレーズが長く発話に時間を要するため、TTLも長くする。
func (c *Config) ChallengeTTL(d string) time.Duration {
	switch d {
	case "easy":
		return c.ChallengeTTLEasy
	case "hard":
		return c.ChallengeTTLHard
	default:
		return c.ChallengeTTLMedium
	}
}

// ParseClientAPIKeys は "clientID:apiKey,clientID:apiKey" 形式の文字列をパースする。
func ParseClientAPIKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("malformed entry: %q", pair)
		}
		clientID := pair[:idx]
		apiKey := pair[idx+1:]
		if _, exists := keys[clientID]; exists {
			return nil, fmt.Errorf("duplicate client ID: %q", clientID)
		}
		keys[clientID] = apiKey
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no client keys defined")
	}
	return keys, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
