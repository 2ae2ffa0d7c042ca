package main

import (
	"context"
	"flag"
	"log"
	"os"

	"fairwager/internal/db"
	"fairwager/internal/repository"
	"fairwager/internal/service"

	"github.com/gagliardetto/solana-go"
)

// Creates a promotional player with a fresh wallet and prints its session token
func main() {
	// expects DATABASE_URL and JWT_SECRET env vars
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}
	amount := flag.Uint64("promo", 10_000, "promotional balance to grant")
	flag.Parse()

	pool := db.Connect(dsn)
	defer pool.Close()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		log.Fatalf("generate wallet: %v", err)
	}
	player := key.PublicKey().String()

	repo := repository.NewPlayerRepository(pool)
	ctx := context.Background()

	if err := repo.Ensure(ctx, player); err != nil {
		log.Fatalf("create player failed: %v", err)
	}
	p, err := repo.Grant(ctx, player, *amount)
	if err != nil {
		log.Fatalf("grant failed: %v", err)
	}
	log.Printf("player=%s promotional=%v promo_balance=%d\n", p.PublicKey, p.Promotional, p.PromoBalance)
	log.Printf("private_key=%s\n", key.String())

	service.InitJWT(os.Getenv("JWT_SECRET"))
	token, err := service.GenerateJWT(player)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}
	log.Printf("token=%s\n", token)
}
