// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/hitoshi/voicegate/internal/model"
)

type contextKey string

// clientIDKey は認証済みクライアントIDのコンテキストキー。
const clientIDKey contextKey = "client_id"

// ClientIDFromContext はコンテキストから認証済みクライアントIDを取得する。
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	if !ok || clientID == "" {
		return "", fmt.Errorf("client ID not found in context")
	}
	return clientID, nil
}

// ContextWithClientID はクライアントIDをコンテキストに設定する。テスト用。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// NewClientAuthMiddleware はX-API-Keyヘッダーによるクライアント認証ミドルウェアを返す。
// 鍵の比較はタイミング攻撃を避けるため定数時間で行う。
// 認証に成功した場合、クライアントIDをリクエストコンテキストに設定する。
func NewClientAuthMiddleware(apiKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "APIキーが指定されていません。",
					Category: "auth",
					Action:   "X-API-Keyヘッダーにクライアントの鍵を指定してください。",
				})
				return
			}

			var matched string
			for clientID, expected := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1 {
					matched = clientID
				}
			}
			if matched == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "APIキーが無効です。",
					Category: "auth",
					Action:   "クライアントの鍵を確認してください。",
				})
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, matched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
