package botbuilder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/gtp-ogs-bot/internal/config"
	"github.com/park285/gtp-ogs-bot/internal/ogs"
)

func TestEngineCommand(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.AppConfig
		wantPath string
		wantArgs string
		wantErr  bool
	}{
		{
			name:     "gtp",
			cfg:      config.AppConfig{BotType: "gtp", EnginePath: "gnugo", EngineArgs: []string{"--mode", "gtp"}},
			wantPath: "gnugo",
			wantArgs: "--mode gtp",
		},
		{
			name:     "random default path",
			cfg:      config.AppConfig{BotType: "random"},
			wantPath: "randomgtp",
		},
		{
			name: "katago",
			cfg: config.AppConfig{
				BotType:      "katago",
				KataGoPath:   "/opt/katago",
				KataGoConfig: "gtp.cfg",
				KataGoModel:  "m.bin.gz",
				BotRank:      "3d",
			},
			wantPath: "/opt/katago",
			wantArgs: "gtp -config gtp.cfg -model m.bin.gz -override-config humanSLProfile=rank_3d",
		},
		{name: "gtp without path", cfg: config.AppConfig{BotType: "gtp"}, wantErr: true},
		{name: "unknown", cfg: config.AppConfig{BotType: "leela", EnginePath: "x"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path, args, err := EngineCommand(&tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("EngineCommand: %v", err)
			}
			if path != tc.wantPath || strings.Join(args, " ") != tc.wantArgs {
				t.Fatalf("got %q %q", path, args)
			}
		})
	}
}

func TestNewWiresOptionalRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := &config.AppConfig{
		OGSBaseURL:        "http://127.0.0.1:1",
		OGSWSURL:          "ws://127.0.0.1:1/socket",
		OGSAPIKey:         "k",
		BotType:           "random",
		IdleInterval:      time.Minute,
		EngineQuitTimeout: time.Second,
		MoveTimeout:       time.Minute,
		Challenge:         ogs.DefaultChallenge(),
		RedisURL:          fmt.Sprintf("redis://%s/0", mr.Addr()),
	}
	deps, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer deps.Close()

	if deps.Manager == nil || deps.Engine == nil || deps.Transport == nil {
		t.Fatalf("missing components: %+v", deps)
	}
	if deps.Store == nil || deps.Archive == nil {
		t.Fatalf("store/archive not wired")
	}
	if err := deps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewNilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
