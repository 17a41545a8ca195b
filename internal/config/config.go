package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/park285/gtp-ogs-bot/internal/ogs"
)

const (
	BotTypeGTP    = "gtp"
	BotTypeKataGo = "katago"
	BotTypeRandom = "random"
)

type AppConfig struct {
	OGSBaseURL  string
	OGSWSURL    string
	OGSAPIKey   string
	OGSUsername string
	OGSPassword string

	BotType    string
	EnginePath string
	EngineArgs []string

	KataGoPath       string
	KataGoConfig     string
	KataGoModel      string
	KataGoHumanModel string
	BotRank          string

	IdleInterval      time.Duration
	EngineQuitTimeout time.Duration
	MoveTimeout       time.Duration
	MoveRetryAttempts int
	MoveRetryBackoff  time.Duration

	Challenge ogs.ChallengeRequest

	RedisURL    string
	DatabaseURL string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		OGSBaseURL:        "https://online-go.com",
		OGSWSURL:          "wss://online-go.com/socket",
		BotType:           BotTypeGTP,
		BotRank:           "5k",
		IdleInterval:      60 * time.Second,
		EngineQuitTimeout: time.Second,
		MoveTimeout:       60 * time.Second,
		Challenge:         ogs.DefaultChallenge(),
	}

	if v := strings.TrimSpace(os.Getenv("OGS_BASE_URL")); v != "" {
		cfg.OGSBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("OGS_WS_URL")); v != "" {
		cfg.OGSWSURL = v
	}
	cfg.OGSAPIKey = strings.TrimSpace(os.Getenv("OGS_API_KEY"))
	cfg.OGSUsername = strings.TrimSpace(os.Getenv("OGS_USERNAME"))
	cfg.OGSPassword = os.Getenv("OGS_PASSWORD")

	if v := strings.TrimSpace(os.Getenv("BOT_TYPE")); v != "" {
		cfg.BotType = strings.ToLower(v)
	}
	cfg.EnginePath = strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	cfg.EngineArgs = strings.Fields(os.Getenv("ENGINE_ARGS"))

	cfg.KataGoPath = strings.TrimSpace(os.Getenv("KATAGO_PATH"))
	cfg.KataGoConfig = strings.TrimSpace(os.Getenv("KATAGO_CONFIG"))
	cfg.KataGoModel = strings.TrimSpace(os.Getenv("KATAGO_MODEL"))
	cfg.KataGoHumanModel = strings.TrimSpace(os.Getenv("KATAGO_HUMAN_MODEL"))
	if v := strings.TrimSpace(os.Getenv("BOT_RANK")); v != "" {
		cfg.BotRank = v
	}

	if n, ok := positiveInt("IDLE_INTERVAL_SEC"); ok {
		cfg.IdleInterval = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("ENGINE_QUIT_TIMEOUT_MS"); ok {
		cfg.EngineQuitTimeout = time.Duration(n) * time.Millisecond
	}
	if n, ok := positiveInt("MOVE_TIMEOUT_SEC"); ok {
		cfg.MoveTimeout = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("MOVE_RETRY_ATTEMPTS"); ok {
		cfg.MoveRetryAttempts = n
	}
	if n, ok := positiveInt("MOVE_RETRY_BACKOFF_MS"); ok {
		cfg.MoveRetryBackoff = time.Duration(n) * time.Millisecond
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if path := strings.TrimSpace(os.Getenv("CHALLENGE_FILE")); path != "" {
		ch, err := LoadChallenge(path)
		if err != nil {
			return nil, err
		}
		cfg.Challenge = ch
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.OGSAPIKey == "" && (c.OGSUsername == "" || c.OGSPassword == "") {
		return errors.New("OGS_API_KEY or OGS_USERNAME/OGS_PASSWORD is required")
	}
	switch c.BotType {
	case BotTypeGTP:
		if c.EnginePath == "" {
			return errors.New("ENGINE_PATH is required for BOT_TYPE=gtp")
		}
	case BotTypeKataGo:
		if c.KataGoPath == "" {
			return errors.New("KATAGO_PATH is required for BOT_TYPE=katago")
		}
		if c.KataGoConfig == "" || c.KataGoModel == "" {
			return errors.New("KATAGO_CONFIG and KATAGO_MODEL are required for BOT_TYPE=katago")
		}
	case BotTypeRandom:
		if c.EnginePath == "" {
			c.EnginePath = "randomgtp"
		}
	default:
		return fmt.Errorf("unknown BOT_TYPE %q", c.BotType)
	}
	return nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// challengeFile mirrors the YAML layout. Zero fields keep the default.
type challengeFile struct {
	Name      string   `yaml:"name"`
	Rules     string   `yaml:"rules"`
	BoardSize int      `yaml:"board_size"`
	Handicap  *int     `yaml:"handicap"`
	Komi      *float64 `yaml:"komi"`
	Ranked    *bool    `yaml:"ranked"`

	TimeControl struct {
		System     string `yaml:"system"`
		MainTime   int    `yaml:"main_time"`
		PeriodTime int    `yaml:"period_time"`
		Periods    int    `yaml:"periods"`
	} `yaml:"time_control"`
}

// LoadChallenge reads a challenge definition from a YAML file on top of
// ogs.DefaultChallenge.
func LoadChallenge(path string) (ogs.ChallengeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ogs.ChallengeRequest{}, fmt.Errorf("read challenge file: %w", err)
	}
	return ParseChallenge(data)
}

func ParseChallenge(data []byte) (ogs.ChallengeRequest, error) {
	var f challengeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ogs.ChallengeRequest{}, fmt.Errorf("parse challenge file: %w", err)
	}

	req := ogs.DefaultChallenge()
	if f.Name != "" {
		req.Game.Name = f.Name
	}
	if f.Rules != "" {
		req.Game.Rules = f.Rules
	}
	if f.BoardSize != 0 {
		if f.BoardSize < 1 || f.BoardSize > 25 {
			return ogs.ChallengeRequest{}, fmt.Errorf("challenge board_size %d out of range", f.BoardSize)
		}
		req.Game.BoardSize = f.BoardSize
		req.Game.Width = f.BoardSize
		req.Game.Height = f.BoardSize
	}
	if f.Handicap != nil {
		req.Game.Handicap = *f.Handicap
	}
	if f.Komi != nil {
		req.Game.Komi = *f.Komi
	}
	if f.Ranked != nil {
		req.Game.Ranked = *f.Ranked
	}

	tc := f.TimeControl
	if tc.System != "" {
		req.TimeControl.System = tc.System
	}
	if tc.MainTime > 0 {
		req.TimeControl.MainTime = tc.MainTime
	}
	if tc.PeriodTime > 0 {
		req.TimeControl.PeriodTime = tc.PeriodTime
	}
	if tc.Periods > 0 {
		req.TimeControl.Periods = tc.Periods
	}
	return req, nil
}
