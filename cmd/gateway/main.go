// 認証・セッション中継ゲートウェイのエントリポイント。
// APIキーによるトークン発行、Bearerトークン検証、流量制限、
// 会話セッションの追跡、下流処理サービスへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/nao1215/rin-gateway/internal/gateway"
)

func main() {
	// .envはローカル開発用。存在しない場合は環境変数をそのまま使う。
	if err := godotenv.Load(); err != nil {
		log.Printf(".envを読み込まずに起動します")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := gateway.NewServer(port)
	if err != nil {
		log.Fatalf("ゲートウェイサーバーの初期化に失敗: %v", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Printf("セッションストアのクローズに失敗: %v", err)
		}
	}()

	log.Printf("ゲートウェイサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("ゲートウェイサービスの起動に失敗: %v", err)
	}
}
