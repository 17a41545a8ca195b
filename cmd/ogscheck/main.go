// Command ogscheck verifies OGS credentials and the realtime socket.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	appcfg "github.com/park285/gtp-ogs-bot/internal/config"
	"github.com/park285/gtp-ogs-bot/internal/ogs"
)

func main() {
	_ = godotenv.Load()

	baseURL := strings.TrimSpace(os.Getenv("OGS_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://online-go.com"
	}
	wsURL := strings.TrimSpace(os.Getenv("OGS_WS_URL"))
	apiKey := strings.TrimSpace(os.Getenv("OGS_API_KEY"))
	username := strings.TrimSpace(os.Getenv("OGS_USERNAME"))
	password := os.Getenv("OGS_PASSWORD")

	client := ogs.NewClient(baseURL,
		ogs.WithAPIKey(apiKey),
		ogs.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if apiKey == "" && username != "" && password != "" {
		if err := client.Login(ctx, username, password); err != nil {
			log.Fatalf("login error: %v", err)
		}
		log.Printf("login ok: %s", username)
	}
	me, err := client.Me(ctx)
	if err != nil {
		log.Fatalf("/api/v1/me error: %v", err)
	}
	log.Printf("/api/v1/me ok: id=%d username=%s", me.ID, me.Username)

	if path := strings.TrimSpace(os.Getenv("CHALLENGE_FILE")); path != "" {
		ch, err := appcfg.LoadChallenge(path)
		if err != nil {
			log.Printf("challenge file error: %v", err)
		} else {
			log.Printf("challenge file ok: %dx%d %s komi=%.1f", ch.Game.BoardSize, ch.Game.BoardSize, ch.Game.Rules, ch.Game.Komi)
		}
	}

	if wsURL == "" {
		log.Println("OGS_WS_URL not set; skipping socket check")
		return
	}

	socket := ogs.NewSocket(wsURL, ogs.WithReconnect(0))
	socket.OnFrame(func(f ogs.Frame) {
		fmt.Printf("frame event=%s payload=%s\n", f.Event, truncate(string(f.Payload), 120))
	})
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := socket.Connect(cctx); err != nil {
		log.Printf("socket connect error: %v", err)
		return
	}
	log.Printf("socket connected: %s", wsURL)

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = socket.Close(context.Background())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
