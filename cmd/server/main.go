package main

import (
	"log"

	"meetlink-backend/internal/config"
	"meetlink-backend/internal/database"
	"meetlink-backend/internal/realtime"
	"meetlink-backend/internal/server"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	// Ping 테스트
	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully")

	// Redis 상태/채팅 채널 연결
	channel, err := realtime.NewChannel(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("❌ Redis connection failed: %v", err)
	}
	defer channel.Close()

	// 서버 생성 및 설정
	srv := server.New(cfg, db, channel)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
