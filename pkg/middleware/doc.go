// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証、流量制限による受け入れ判定、パニックリカバリ、
// CORS設定など、ゲートウェイの全エンドポイントで共通して使用する
// ミドルウェアを含む。
package middleware
