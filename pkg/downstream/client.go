// Package downstream は下流処理サービスとの通信クライアントを提供する。
//
// 送信クレデンシャルはサービス間認証用のX-API-Keyヘッダーであり、
// 呼び出し元のBearerトークンをそのまま下流に転送することはない。
// 自動リトライは行わず、タイムアウトを含む失敗はUpstreamErrorとして
// 呼び出し側に返す。
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamError は下流サービスの失敗（到達不能・タイムアウト・
// エラーステータス）を表す。
type UpstreamError struct {
	// StatusCode は下流が返したHTTPステータスコード。
	// 到達不能・タイムアウトの場合は0。
	StatusCode int
	// Message は内部ログ向けの失敗概要。呼び出し元クライアントには開示しない。
	Message string
}

// Error はエラー文字列を返す。
func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("下流サービスに到達できません: %s", e.Message)
	}
	return fmt.Sprintf("下流サービスがエラーを返しました: status=%d, %s", e.StatusCode, e.Message)
}

// AsUpstreamError はエラーをUpstreamErrorとして取り出す。
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Client は下流処理サービスとの通信クライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。タイムアウトを持つ。
	httpClient *http.Client
	// baseURL は下流サービスのベースURL。
	baseURL string
	// apiKey はサービス間認証用のAPIキー。ログには出力しない。
	apiKey string
}

// New は新しい下流サービスクライアントを生成する。
// timeoutを超えた呼び出しはUpstreamErrorとして打ち切られる。
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// chatRequest は下流チャットAPIへのリクエストボディ。
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatResponse は下流チャットAPIのレスポンスボディ。
type chatResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
}

// Chat はチャットメッセージを下流サービスに転送し、応答本文を返す。
// クリティカルな呼び出しであり、失敗はUpstreamErrorとして呼び出し側に伝播する。
func (c *Client) Chat(ctx context.Context, sessionID, message string) (string, error) {
	body, status, err := c.postJSON(ctx, "/api/chat", chatRequest{
		SessionID: sessionID,
		Message:   message,
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &UpstreamError{StatusCode: status, Message: "チャット転送が失敗しました"}
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &UpstreamError{StatusCode: status, Message: "チャット応答のパースに失敗しました"}
	}
	return resp.Response, nil
}

// NotifySessionInit はセッション作成を下流サービスに通知する。
// ソフトフェイル対象の呼び出しであり、呼び出し側は失敗をログと
// 警告フラグで扱い、セッション作成自体は成功させる。
func (c *Client) NotifySessionInit(ctx context.Context, sessionID string) error {
	_, status, err := c.postJSON(ctx, "/api/session/init", map[string]string{
		"session_id": sessionID,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &UpstreamError{StatusCode: status, Message: "セッション作成通知が失敗しました"}
	}
	return nil
}

// Health は下流サービスの死活を確認する。
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("ヘルスチェックリクエストの作成に失敗: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode, Message: "ヘルスチェックが失敗しました"}
	}
	return nil
}

// postJSON はJSONボディでPOSTリクエストを送信し、レスポンスボディと
// ステータスコードを返す共通処理。X-API-Keyヘッダーを必ず付与する。
func (c *Client) postJSON(ctx context.Context, path string, body any) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// タイムアウトを含む転送層の失敗。保留状態は残さない。
		return nil, 0, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &UpstreamError{StatusCode: resp.StatusCode, Message: "レスポンスの読み取りに失敗しました"}
	}
	return respBody, resp.StatusCode, nil
}
