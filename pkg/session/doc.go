// Package session は会話セッションの生成・追跡とメッセージ履歴の管理を提供する。
//
// セッションは認証済みクライアントに紐づく一時的な会話コンテキストであり、
// 履歴は追記専用の全順序列として保持する。保存先はStoreインタフェースで
// 抽象化し、インメモリ・SQLite・Redisの実装を切り替えられる。
package session
