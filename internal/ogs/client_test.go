package ogs

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, opts ...Option) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	dial := WithDial(func(string) (net.Conn, error) { return ln.Dial() })
	return NewClient("http://ogs.test", append([]Option{dial, WithTimeout(2 * time.Second)}, opts...)...)
}

func TestCreateChallengePayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		auth string
	)
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/v1/challenges" || !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		mu.Lock()
		body = append([]byte(nil), ctx.PostBody()...)
		auth = string(ctx.Request.Header.Peek("Authorization"))
		mu.Unlock()
		ctx.SetBodyString(`{"id": 4242}`)
	}, WithAPIKey("secret"))

	id, err := c.CreateChallenge(context.Background(), DefaultChallenge())
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if id != 4242 {
		t.Fatalf("challenge id = %d", id)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer secret" {
		t.Fatalf("authorization header = %q", auth)
	}
	var got struct {
		Game struct {
			Rules     string  `json:"rules"`
			Handicap  int     `json:"handicap"`
			BoardSize int     `json:"board_size"`
			Komi      float64 `json:"komi"`
			Ranked    bool    `json:"ranked"`
		} `json:"game"`
		TimeControl struct {
			System     string `json:"system"`
			MainTime   int    `json:"main_time"`
			PeriodTime int    `json:"period_time"`
			Periods    int    `json:"periods"`
		} `json:"time_control"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode payload: %v (%s)", err, body)
	}
	if got.Game.Rules != "japanese" || got.Game.Handicap != 0 || got.Game.BoardSize != 19 || got.Game.Komi != 6.5 || !got.Game.Ranked {
		t.Fatalf("unexpected game settings: %+v", got.Game)
	}
	tc := got.TimeControl
	if tc.System != "byoyomi" || tc.MainTime != 600 || tc.PeriodTime != 30 || tc.Periods != 5 {
		t.Fatalf("unexpected time control: %+v", tc)
	}
}

func TestLoginKeepsCookies(t *testing.T) {
	var cookie atomic.Value
	cookie.Store("")
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/api/v0/login":
			var in map[string]string
			_ = json.Unmarshal(ctx.PostBody(), &in)
			if in["username"] != "bot" || in["password"] != "pw" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			ck := fasthttp.AcquireCookie()
			ck.SetKey("sessionid")
			ck.SetValue("s3ss")
			ctx.Response.Header.SetCookie(ck)
			fasthttp.ReleaseCookie(ck)
			ctx.SetBodyString(`{}`)
		case "/api/v1/me":
			cookie.Store(string(ctx.Request.Header.Cookie("sessionid")))
			ctx.SetBodyString(`{"id": 77, "username": "bot"}`)
		case "/api/v1/ui/bot":
			ctx.SetBodyString(`{"apikey": "rt-key"}`)
		}
	})

	if err := c.Login(context.Background(), "bot", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := c.Login(context.Background(), "bot", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ID != 77 || me.Username != "bot" {
		t.Fatalf("unexpected user: %+v", me)
	}
	if got := cookie.Load().(string); got != "s3ss" {
		t.Fatalf("session cookie not sent, got %q", got)
	}

	key, err := c.BotAPIKey(context.Background())
	if err != nil || key != "rt-key" {
		t.Fatalf("bot api key = %q, %v", key, err)
	}
	if c.APIKey() != "rt-key" {
		t.Fatalf("client did not keep fetched key")
	}
}

func TestMeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetBodyString(`{"id": 1, "username": "x"}`)
	}, WithRetry(3))

	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("me after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCreateChallengeIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}, WithRetry(3))

	if _, err := c.CreateChallenge(context.Background(), DefaultChallenge()); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("challenge POST retried %d times", calls.Load())
	}
}
