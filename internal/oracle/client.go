package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// maxResponseSize はオラクル応答の読み込み上限。埋め込みベクトルを含んでも十分な大きさ。
const maxResponseSize = 4 * 1024 * 1024

// HTTPClient はOracleのHTTP実装。
// オラクルのURLは運用者設定であり信頼できるが、設定ミスや侵害された設定値による
// 内部ネットワークへのアクセスを防ぐため、既定ではsafeurlでプライベートIP、
// ループバック、リンクローカル、メタデータIPへのリクエストをブロックする。
// クラスタ内にオラクルを配置する構成ではallowPrivateで無効化できる。
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient はHTTPClientを生成する。
func NewHTTPClient(baseURL string, timeout time.Duration, allowPrivate bool) *HTTPClient {
	var client *http.Client
	if allowPrivate {
		client = &http.Client{Timeout: timeout}
	} else {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443, 8080).
			Build()
		client = safeurl.Client(config).Client
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type extractRequest struct {
	Audio string `json:"audio"` // base64エンコード済み音声
}

type extractResponse struct {
	Embedding       []float64 `json:"embedding"`
	SNR             float64   `json:"snr"`
	DurationSeconds float64   `json:"duration_seconds"`
	ModelVersion    string    `json:"model_version"`
}

// ExtractEmbedding は音声から話者埋め込みと録音品質指標を抽出する。
func (c *HTTPClient) ExtractEmbedding(ctx context.Context, audio []byte) (*ExtractResult, error) {
	var resp extractResponse
	req := extractRequest{Audio: base64.StdEncoding.EncodeToString(audio)}
	if err := c.post(ctx, "/v1/embedding", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("oracle returned empty embedding")
	}
	return &ExtractResult{
		Embedding:       resp.Embedding,
		SNR:             resp.SNR,
		DurationSeconds: resp.DurationSeconds,
		ModelVersion:    resp.ModelVersion,
	}, nil
}

type compareRequest struct {
	Audio     string    `json:"audio"`
	Reference []float64 `json:"reference"`
}

type scoreResponse struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// Compare は音声の話者埋め込みと基準声紋の類似度[0,1]を返す。
func (c *HTTPClient) Compare(ctx context.Context, audio []byte, reference []float64) (float64, string, error) {
	var resp scoreResponse
	req := compareRequest{
		Audio:     base64.StdEncoding.EncodeToString(audio),
		Reference: reference,
	}
	if err := c.post(ctx, "/v1/compare", req, &resp); err != nil {
		return 0, "", err
	}
	return resp.Score, resp.ModelVersion, nil
}

type spoofRequest struct {
	Audio string `json:"audio"`
}

// SpoofScore は音声が再生・合成である確率[0,1]を返す。
func (c *HTTPClient) SpoofScore(ctx context.Context, audio []byte) (float64, string, error) {
	var resp scoreResponse
	req := spoofRequest{Audio: base64.StdEncoding.EncodeToString(audio)}
	if err := c.post(ctx, "/v1/spoof", req, &resp); err != nil {
		return 0, "", err
	}
	return resp.Score, resp.ModelVersion, nil
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	Expected string `json:"expected"`
}

// TranscribeAndMatch は音声を文字起こしし、要求フレーズとの一致度[0,1]を返す。
func (c *HTTPClient) TranscribeAndMatch(ctx context.Context, audio []byte, expected string) (float64, string, error) {
	var resp scoreResponse
	req := transcribeRequest{
		Audio:    base64.StdEncoding.EncodeToString(audio),
		Expected: expected,
	}
	if err := c.post(ctx, "/v1/transcribe-match", req, &resp); err != nil {
		return 0, "", err
	}
	return resp.Score, resp.ModelVersion, nil
}

// post はJSONリクエストを送信し、JSONレスポンスをデコードする。
func (c *HTTPClient) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read oracle response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("failed to decode oracle response: %w", err)
	}

	return nil
}

// compile-time interface check
var _ Oracle = (*HTTPClient)(nil)
