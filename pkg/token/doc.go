// Package token はクライアント認証用のトークン発行・検証機能を提供する。
//
// 登録済みクライアント（ClientRegistry）ごとに独立した署名秘密鍵を持ち、
// アクセストークンとリフレッシュトークンのペアを発行する。検証は
// 「未検証デコード → クライアント特定 → 該当秘密鍵で署名検証」の
// 二段階で行い、テナント間の秘密鍵分離を維持する。
package token
