package ogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/coords"
)

// Credentials select how the transport signs in. Either APIKey, or
// Username and Password (the realtime key is then fetched after login).
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// Transport combines the REST client and realtime socket into the
// operations the game manager needs.
type Transport struct {
	client *Client
	socket *Socket
	creds  Credentials
	logger *zap.Logger

	mu       sync.RWMutex
	handler  Handler
	userID   int64
	username string
	joined   map[GameID]struct{}
}

func NewTransport(client *Client, socket *Socket, creds Credentials, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		client: client,
		socket: socket,
		creds:  creds,
		logger: logger,
		joined: make(map[GameID]struct{}),
	}
	socket.OnFrame(t.dispatch)
	socket.OnReconnect(t.resume)
	return t
}

func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) UserID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.userID
}

// Connect resolves the bot identity, opens the realtime socket and
// authenticates it.
func (t *Transport) Connect(ctx context.Context) error {
	if t.creds.Username != "" && t.creds.Password != "" {
		if err := t.client.Login(ctx, t.creds.Username, t.creds.Password); err != nil {
			return err
		}
	}
	me, err := t.client.Me(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.userID = me.ID
	t.username = me.Username
	t.mu.Unlock()
	t.logger.Info("ogs_identity", zap.Int64("user_id", me.ID), zap.String("username", me.Username))

	if t.client.APIKey() == "" {
		key, err := t.client.BotAPIKey(ctx)
		if err != nil {
			t.logger.Warn("ogs_api_key_fetch_failed", zap.Error(err))
		} else if key == "" {
			t.logger.Warn("ogs_api_key_missing")
		}
	}

	if err := t.socket.Connect(ctx); err != nil {
		return err
	}
	return t.authenticate(ctx)
}

func (t *Transport) authenticate(ctx context.Context) error {
	t.mu.RLock()
	payload := map[string]any{
		"api_key":   t.client.APIKey(),
		"player_id": t.userID,
		"username":  t.username,
	}
	t.mu.RUnlock()
	if err := t.socket.Send(ctx, "authenticate", payload); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// resume runs after the socket reconnected: authenticate again and rejoin
// every game we were in.
func (t *Transport) resume(ctx context.Context) {
	if err := t.authenticate(ctx); err != nil {
		t.logger.Error("ogs_reauth_failed", zap.Error(err))
		return
	}
	t.mu.RLock()
	ids := make([]GameID, 0, len(t.joined))
	for id := range t.joined {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	for _, id := range ids {
		if err := t.sendJoin(ctx, id); err != nil {
			t.logger.Warn("ogs_rejoin_failed", zap.String("game_id", string(id)), zap.Error(err))
		}
	}
}

func (t *Transport) Disconnect(ctx context.Context) error {
	return t.socket.Close(ctx)
}

// JoinGame subscribes to a game's events. The server answers with a
// gamedata snapshot, so joining again is how a caller resyncs.
func (t *Transport) JoinGame(ctx context.Context, id GameID) error {
	t.mu.Lock()
	t.joined[id] = struct{}{}
	t.mu.Unlock()
	return t.sendJoin(ctx, id)
}

func (t *Transport) sendJoin(ctx context.Context, id GameID) error {
	payload := map[string]any{
		"game_id":   id,
		"player_id": t.UserID(),
		"chat":      false,
	}
	if err := t.socket.Send(ctx, "game/connect", payload); err != nil {
		return fmt.Errorf("join game %s: %w", id, err)
	}
	return nil
}

// SubmitMove sends an engine reply ("Q16", "pass", "resign") for a game.
func (t *Transport) SubmitMove(ctx context.Context, id GameID, move string, boardSize int) error {
	if strings.EqualFold(strings.TrimSpace(move), "resign") {
		t.logger.Info("ogs_resign", zap.String("game_id", string(id)))
		if err := t.socket.Send(ctx, "game/resign", map[string]any{"game_id": id, "player_id": t.UserID()}); err != nil {
			return fmt.Errorf("resign game %s: %w", id, err)
		}
		return nil
	}
	p, err := coords.FromGTP(move, boardSize)
	if err != nil {
		return fmt.Errorf("submit move %q: %w", move, err)
	}
	idx, err := coords.ToIndex(p, boardSize)
	if err != nil {
		return fmt.Errorf("submit move %q: %w", move, err)
	}
	t.logger.Info("ogs_submit_move",
		zap.String("game_id", string(id)),
		zap.String("move", move),
		zap.Int("index", idx),
	)
	payload := map[string]any{"game_id": id, "player_id": t.UserID(), "move": idx}
	if err := t.socket.Send(ctx, "game/move", payload); err != nil {
		return fmt.Errorf("submit move %s: %w", id, err)
	}
	return nil
}

func (t *Transport) CreateChallenge(ctx context.Context, req ChallengeRequest) (int64, error) {
	id, err := t.client.CreateChallenge(ctx, req)
	if err != nil {
		return 0, err
	}
	t.logger.Info("ogs_challenge_created", zap.Int64("challenge_id", id), zap.Int("board_size", req.Game.BoardSize))
	return id, nil
}

func (t *Transport) currentHandler() Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

// dispatch decodes one realtime frame into a Handler call. Undecodable
// frames are logged and dropped.
func (t *Transport) dispatch(f Frame) {
	h := t.currentHandler()
	if h == nil {
		return
	}

	if f.Event == "gameStarted" {
		var ev GameStarted
		if err := json.Unmarshal(f.Payload, &ev); err != nil || ev.GameID == "" {
			t.logger.Warn("ogs_event_invalid", zap.String("event", f.Event), zap.Error(err))
			return
		}
		h.OnGameStarted(ev)
		return
	}

	id, kind, ok := splitGameEvent(f.Event)
	if !ok {
		t.logger.Debug("ogs_event_ignored", zap.String("event", f.Event))
		return
	}
	switch kind {
	case "move":
		var ev MoveEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			t.logger.Warn("ogs_event_invalid", zap.String("event", f.Event), zap.Error(err))
			return
		}
		ev.GameID = id
		h.OnGameMove(ev)
	case "gamedata":
		var gd GameData
		if err := json.Unmarshal(f.Payload, &gd); err != nil {
			t.logger.Warn("ogs_event_invalid", zap.String("event", f.Event), zap.Error(err))
			return
		}
		gd.GameID = id
		if gd.Phase == "finished" {
			t.forget(id)
		}
		h.OnGameSnapshot(gd)
	case "phase":
		phase, err := decodePhase(f.Payload)
		if err != nil {
			t.logger.Warn("ogs_event_invalid", zap.String("event", f.Event), zap.Error(err))
			return
		}
		if phase == "finished" {
			t.forget(id)
			h.OnGameEnded(GameEnded{GameID: id, Phase: phase})
		}
	default:
		t.logger.Debug("ogs_event_ignored", zap.String("event", f.Event))
	}
}

func (t *Transport) forget(id GameID) {
	t.mu.Lock()
	delete(t.joined, id)
	t.mu.Unlock()
}

// splitGameEvent parses "game/<id>/<kind>".
func splitGameEvent(event string) (GameID, string, bool) {
	parts := strings.SplitN(event, "/", 3)
	if len(parts) != 3 || parts[0] != "game" || parts[1] == "" {
		return "", "", false
	}
	return GameID(parts[1]), parts[2], true
}

func decodePhase(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", errors.New("phase payload is neither string nor object")
	}
	return obj.Phase, nil
}
