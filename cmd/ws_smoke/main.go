package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"fairwager/internal/db"
	"fairwager/internal/domain"
	"fairwager/internal/repository"
	"fairwager/internal/round"
	"fairwager/internal/service"
	"fairwager/internal/ws"
)

// Plays one promotional dice round and one mines round over the WebSocket
// against a running server and prints every message received.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	pool := db.Connect(dsn)
	defer pool.Close()

	// prepare a promotional player
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		log.Fatalf("generate wallet: %v", err)
	}
	player := key.PublicKey().String()
	if _, err := repository.NewPlayerRepository(pool).Grant(context.Background(), player, 1_000); err != nil {
		log.Fatalf("grant: %v", err)
	}

	service.InitJWT(jwtSecret)
	token, err := service.GenerateJWT(player)
	if err != nil {
		log.Fatalf("gen token: %v", err)
	}

	// use 127.0.0.1 to prefer IPv4 (avoid resolving to [::1])
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%s/ws?token=%s", port, token), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(req ws.Request) {
		if err := conn.WriteJSON(req); err != nil {
			log.Fatalf("write %s: %v", req.Type, err)
		}
	}

	// readUntil prints messages until the reply to id arrives and returns its round
	readUntil := func(id string) *domain.Round {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("read: %v", err)
			}
			log.Printf("got: %s", msg)
			var reply struct {
				Type    string          `json:"type"`
				ID      string          `json:"id"`
				Payload json.RawMessage `json:"payload"`
			}
			if json.Unmarshal(msg, &reply) != nil || reply.ID != id {
				continue
			}
			if reply.Type == ws.MsgError {
				log.Fatalf("request %s failed: %s", id, reply.Payload)
			}
			var r domain.Round
			if err := json.Unmarshal(reply.Payload, &r); err != nil {
				log.Fatalf("decode round: %v", err)
			}
			return &r
		}
		log.Fatalf("no reply to %s", id)
		return nil
	}

	send(ws.Request{Type: ws.MsgPlace, ID: "dice", Place: &round.PlaceRequest{
		Game:   domain.GameDice,
		Stake:  10,
		Params: domain.GameParams{Threshold: 50, Direction: "under"},
	}})
	dice := readUntil("dice")
	send(ws.Request{Type: ws.MsgResolve, ID: "dice-resolve", Nonce: dice.Nonce})
	dice = readUntil("dice-resolve")
	log.Printf("dice round %d: status=%s payout=%d", dice.Nonce, dice.Status, dice.Payout)

	send(ws.Request{Type: ws.MsgPlace, ID: "mines", Place: &round.PlaceRequest{
		Game:   domain.GameMines,
		Stake:  10,
		Params: domain.GameParams{Mines: 3},
	}})
	mines := readUntil("mines")
	send(ws.Request{Type: ws.MsgOpen, ID: "mines-open", Nonce: mines.Nonce, Cell: 12})
	mines = readUntil("mines-open")
	if mines.Status != domain.StatusResolved {
		send(ws.Request{Type: ws.MsgCashOut, ID: "mines-cash", Nonce: mines.Nonce})
		mines = readUntil("mines-cash")
	}
	log.Printf("mines round %d: status=%s payout=%d", mines.Nonce, mines.Status, mines.Payout)

	log.Println("smoke test finished")
}
