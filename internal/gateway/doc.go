// Package gateway は認証・セッション中継ゲートウェイの内部実装を提供する。
//
// 登録済みクライアントへのトークン発行、Bearerトークンの検証、
// エンドポイント種別ごとの流量制限、会話セッションの追跡、
// 下流処理サービスへの認可済みリクエストの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。呼び出し元のトークンと下流向けのサービスAPIキーは常に
// 別のクレデンシャルであり、相互に転用しない。
package gateway
