package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"minigames-backend/internal/games/blackjack"
	"minigames-backend/internal/middleware"
	"minigames-backend/internal/models"
	"minigames-backend/internal/rng"
	"minigames-backend/internal/services"
)

type frame struct {
	Type string          `json:"type"`
	Game models.GameType `json:"game"`
	Data json.RawMessage `json:"data"`
}

type testEnv struct {
	server *httptest.Server
	jwt    *services.JWTService
	ledger *services.MemoryLedger
}

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T, src rng.Source, rateLimit int) *testEnv {
	t.Helper()
	return setupWith(t, src, rateLimit, services.Pacing{})
}

func setupWith(t *testing.T, src rng.Source, rateLimit int, pacing services.Pacing) *testEnv {
	t.Helper()
	log := zap.NewNop()
	ledger := services.NewMemoryLedger(decimal.NewFromInt(1000))
	settler := services.NewSettler(ledger, ledger, 2, log)
	settler.NewBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	limits := models.BetLimits{Min: decimal.RequireFromString("0.1"), Max: decimal.NewFromInt(500)}
	bj := services.NewBlackjackService(settler, limits, pacing, func() blackjack.Deck {
		return rng.NewShoe(1, 0, rng.NewSeeded(1))
	}, log)
	cr := services.NewCrashService(settler, limits, src, log)
	dr := services.NewDrawnService(settler, limits, src, log)

	jwtService := services.NewJWTService("secret", time.Hour)
	ws := NewWebSocketHandler(bj, cr, dr, settler, ledger, rateLimit, log)
	games := NewGameHandler(settler, bj, cr, dr, nil, log)

	r := gin.New()
	r.GET("/health", games.Health)
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtService))
	api.GET("/ws", ws.HandleWebSocket)
	api.GET("/balance", games.GetBalance)
	api.GET("/transactions", games.GetTransactions)
	api.GET("/games/active", games.GetActiveGames)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &testEnv{server: server, jwt: jwtService, ledger: ledger}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.GenerateToken(userID, "player-"+userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/ws?token=" + e.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := next(t, conn, models.MsgBalance)
	var bal models.BalanceResponse
	require.NoError(t, json.Unmarshal(f.Data, &bal))
	assert.Equal(t, userID, bal.UserID)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, game models.GameType, typ string, data any) {
	t.Helper()
	cmd := map[string]any{"type": typ, "game": game}
	if data != nil {
		cmd["data"] = data
	}
	require.NoError(t, conn.WriteJSON(cmd))
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func errorCode(t *testing.T, f frame) string {
	t.Helper()
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p.Code
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := setup(t, rng.NewSeeded(1), 0)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketPingAndErrors(t *testing.T) {
	env := setup(t, rng.NewSeeded(1), 0)
	conn := env.dial(t, "u1")

	send(t, conn, "", models.MsgPing, nil)
	next(t, conn, models.MsgPong)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, string(services.CodeValidation), errorCode(t, next(t, conn, models.MsgError)))

	send(t, conn, "roulette", models.ActionJoin, nil)
	assert.Equal(t, string(services.CodeValidation), errorCode(t, next(t, conn, models.MsgError)))

	send(t, conn, models.GameTypePlinko, models.ActionPlaceBet, map[string]any{"amount": 1})
	assert.Equal(t, string(services.CodeSession), errorCode(t, next(t, conn, models.MsgError)))

	send(t, conn, models.GameTypePlinko, models.ActionJoin, nil)
	next(t, conn, models.MsgState)
	send(t, conn, models.GameTypePlinko, models.ActionPlaceBet, nil)
	f := next(t, conn, models.MsgError)
	assert.Equal(t, models.GameTypePlinko, f.Game)
	assert.Equal(t, string(services.CodeValidation), errorCode(t, f))
}

func TestWebSocketSlotsSpin(t *testing.T) {
	env := setup(t, rng.NewSeeded(5), 0)
	conn := env.dial(t, "u1")

	send(t, conn, models.GameTypeSlots, models.ActionJoin, nil)
	next(t, conn, models.MsgState)

	send(t, conn, models.GameTypeSlots, models.ActionSpin, map[string]any{"amount": "2.50"})
	f := next(t, conn, models.MsgSlotsResult)

	var res struct {
		TotalWin   decimal.Decimal `json:"totalWin"`
		NewBalance decimal.Decimal `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &res))
	want := decimal.RequireFromString("997.5").Add(res.TotalWin)
	assert.True(t, res.NewBalance.Equal(want), "balance %s, want %s", res.NewBalance, want)

	bal, _ := env.ledger.GetBalance(context.Background(), "u1")
	assert.True(t, bal.Equal(want))
}

func TestWebSocketCrashRound(t *testing.T) {
	env := setup(t, rng.NewSequence(0.99), 0)
	conn := env.dial(t, "u1")

	send(t, conn, models.GameTypeCrash, models.ActionJoin, nil)
	next(t, conn, models.MsgState)

	send(t, conn, models.GameTypeCrash, models.ActionPlaceBet, map[string]any{"amount": 10})
	next(t, conn, models.MsgCrashBetAccepted)
	send(t, conn, models.GameTypeCrash, models.ActionStart, nil)
	next(t, conn, models.MsgCrashStarted)
	send(t, conn, models.GameTypeCrash, models.ActionCashout, map[string]any{"multiplier": 2})
	f := next(t, conn, models.MsgCrashCashout)

	var res services.CrashCashout
	require.NoError(t, json.Unmarshal(f.Data, &res))
	assert.True(t, res.Winnings.Equal(decimal.NewFromInt(20)))
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(1010)))
}

func TestCashoutDuringPacedDeal(t *testing.T) {
	// Rounds crash at 1.35x, a little over three seconds in.
	env := setupWith(t, rng.NewSequence(0.27), 0, services.Pacing{Deal: time.Second, Dealer: time.Second, Natural: time.Second})
	conn := env.dial(t, "u1")

	send(t, conn, models.GameTypeBlackjack, models.ActionJoin, nil)
	next(t, conn, models.MsgState)
	send(t, conn, models.GameTypeBlackjack, models.ActionAddBet, map[string]any{"amount": 10})
	next(t, conn, models.MsgState)

	send(t, conn, models.GameTypeCrash, models.ActionJoin, nil)
	next(t, conn, models.MsgState)
	send(t, conn, models.GameTypeCrash, models.ActionPlaceBet, map[string]any{"amount": 10})
	next(t, conn, models.MsgCrashBetAccepted)
	send(t, conn, models.GameTypeCrash, models.ActionStart, nil)
	next(t, conn, models.MsgCrashStarted)

	send(t, conn, models.GameTypeBlackjack, models.ActionDeal, nil)
	send(t, conn, models.GameTypeCrash, models.ActionCashout, map[string]any{"multiplier": 1.1})

	begun := time.Now()
	conn.SetReadDeadline(begun.Add(3 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		require.NotEqual(t, models.MsgCrashCrashed, f.Type, "round crashed before the cashout was read")
		if f.Type != models.MsgCrashCashout {
			continue
		}
		var res services.CrashCashout
		require.NoError(t, json.Unmarshal(f.Data, &res))
		assert.True(t, res.Winnings.Equal(decimal.NewFromInt(11)), "winnings %s", res.Winnings)
		assert.Less(t, time.Since(begun), time.Second)
		return
	}
}

func TestDisconnectRefundsPendingCrashBet(t *testing.T) {
	env := setup(t, rng.NewSequence(0.99), 0)
	conn := env.dial(t, "u1")

	send(t, conn, models.GameTypeCrash, models.ActionJoin, nil)
	next(t, conn, models.MsgState)
	send(t, conn, models.GameTypeCrash, models.ActionPlaceBet, map[string]any{"amount": 100})
	next(t, conn, models.MsgCrashBetAccepted)

	ctx := context.Background()
	bal, _ := env.ledger.GetBalance(ctx, "u1")
	require.True(t, bal.Equal(decimal.NewFromInt(900)))

	conn.Close()
	assert.Eventually(t, func() bool {
		bal, _ := env.ledger.GetBalance(ctx, "u1")
		return bal.Equal(decimal.NewFromInt(1000))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBalanceReachesOtherTabs(t *testing.T) {
	env := setup(t, rng.NewSequence(0.2, 0.9), 0)
	first := env.dial(t, "u1")
	second := env.dial(t, "u1")

	send(t, first, models.GameTypePlinko, models.ActionJoin, nil)
	next(t, first, models.MsgState)
	send(t, first, models.GameTypePlinko, models.ActionPlaceBet, map[string]any{"amount": 10})
	next(t, first, models.MsgPlinkoResult)

	f := next(t, second, models.MsgBalance)
	var bal models.BalanceResponse
	require.NoError(t, json.Unmarshal(f.Data, &bal))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(992)), "balance %s", bal.Balance)
}

func TestWebSocketRateLimit(t *testing.T) {
	env := setup(t, rng.NewSeeded(1), 2)
	conn := env.dial(t, "u1")

	send(t, conn, models.GameTypeSlots, models.ActionJoin, nil)
	next(t, conn, models.MsgState)
	send(t, conn, models.GameTypeSlots, models.ActionSpin, map[string]any{"amount": 1})
	next(t, conn, models.MsgSlotsResult)
	send(t, conn, models.GameTypeSlots, models.ActionSpin, map[string]any{"amount": 1})
	assert.Equal(t, string(services.CodeRateLimited), errorCode(t, next(t, conn, models.MsgError)))
}

func TestHTTPEndpoints(t *testing.T) {
	env := setup(t, rng.NewSeeded(1), 0)
	token := env.token(t, "u1")
	conn := env.dial(t, "u1")
	send(t, conn, models.GameTypeBlackjack, models.ActionJoin, nil)
	next(t, conn, models.MsgState)

	get := func(path string) (int, map[string]json.RawMessage) {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))

	code, body = get("/api/balance")
	require.Equal(t, http.StatusOK, code)
	var bal models.BalanceResponse
	require.NoError(t, json.Unmarshal(body["balance"], &bal))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(1000)))

	code, body = get("/api/transactions?limit=500")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `0`, string(body["count"]))

	code, body = get("/api/games/active")
	require.Equal(t, http.StatusOK, code)
	var games []models.SessionInfo
	require.NoError(t, json.Unmarshal(body["games"], &games))
	require.Len(t, games, 1)
	assert.Equal(t, models.GameTypeBlackjack, games[0].GameType)
}
