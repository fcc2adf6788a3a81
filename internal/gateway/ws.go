package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradeul/scanner-gateway/internal/apperr"
	"github.com/tradeul/scanner-gateway/internal/auth"
	"github.com/tradeul/scanner-gateway/internal/logger"
	"github.com/tradeul/scanner-gateway/internal/redisx"
	"github.com/tradeul/scanner-gateway/internal/registry"
	"github.com/tradeul/scanner-gateway/internal/subindex"
	"github.com/tradeul/scanner-gateway/internal/wsproto"
)

// Close codes named in spec.md §6.
const (
	closeMissingToken = 4001
	closeInvalidToken = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Market-data subscribers are arbitrary browser clients; the
	// protocol has no same-origin requirement (spec.md §6 names no
	// Origin restriction), matching the teacher's public WS endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades /ws/scanner and runs the connection until it closes.
func (g *Gateway) HandleWS(c *gin.Context) {
	token := c.Query(g.cfg.AuthQueryParam)

	principal, err := g.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		conn, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
		if upErr != nil {
			return
		}
		code := closeInvalidToken
		if token == "" {
			code = closeMissingToken
		}
		logger.WebSocket().Warn().Err(err).Msg("websocket auth failed")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
		conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WebSocket().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	registered := g.reg.Register(conn, id, principal, g.dispatch)
	registered.Send(wsproto.NewConnected())
}

// dispatch decodes one inbound frame and routes it per spec.md §4.12's
// action table. Malformed frames and unknown actions produce a
// recoverable error message; the connection stays open (spec.md §7).
func (g *Gateway) dispatch(conn *registry.Connection, raw []byte) {
	var env wsproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		conn.Send(wsproto.NewError("", apperr.ErrCodeMalformedMessage, "could not parse message"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch env.Action {
	case wsproto.ActionSubscribeList:
		g.handleSubscribeList(ctx, conn, env.Raw)
	case wsproto.ActionUnsubscribeList:
		g.handleUnsubscribeList(conn, env.Raw)
	case wsproto.ActionResync:
		g.handleResync(ctx, conn, env.Raw)
	case wsproto.ActionSubscribeQuote, wsproto.ActionSubscribeQuotes:
		g.handleSubscribeQuote(ctx, conn, env.Raw)
	case wsproto.ActionUnsubscribeQuote, wsproto.ActionUnsubscribeQuotes:
		g.handleUnsubscribeQuote(ctx, conn, env.Raw)
	case wsproto.ActionSubscribeChart:
		g.handleSubscribeChart(ctx, conn, env.Raw)
	case wsproto.ActionUnsubscribeChart:
		g.handleUnsubscribeChart(ctx, conn, env.Raw)
	case wsproto.ActionSubscribeSecFilings:
		conn.Mu.Lock()
		conn.WantsFilings = true
		conn.Mu.Unlock()
	case wsproto.ActionUnsubSecFilings:
		conn.Mu.Lock()
		conn.WantsFilings = false
		conn.Mu.Unlock()
	case wsproto.ActionSubscribeNews, wsproto.ActionSubscribeNewsLegacy:
		conn.Mu.Lock()
		conn.WantsNews = true
		conn.Mu.Unlock()
	case wsproto.ActionUnsubscribeNews:
		conn.Mu.Lock()
		conn.WantsNews = false
		conn.Mu.Unlock()
	case wsproto.ActionPing:
		g.handlePing(conn, env.Raw)
	case wsproto.ActionPong:
		// ignored, per spec.md §4.12.
	case wsproto.ActionRefreshToken:
		g.handleRefreshToken(ctx, conn, env.Raw)
	default:
		conn.Send(wsproto.NewError(env.Action, apperr.ErrCodeUnknownAction, "unknown action"))
	}
}

func (g *Gateway) handleSubscribeList(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.SubscribeListMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.List == "" {
		conn.Send(wsproto.NewError(wsproto.ActionSubscribeList, apperr.ErrCodeMalformedMessage, "missing list"))
		return
	}

	if appErr := g.authorizeList(ctx, conn.Principal, msg.List); appErr != nil {
		conn.Send(wsproto.NewError(wsproto.ActionSubscribeList, appErr.Code, appErr.Message))
		return
	}

	conn.Send(wsproto.NewSubscribedList(msg.List))
	if err := g.engine.HandleSubscribeList(ctx, conn, msg.List); err != nil {
		conn.Send(wsproto.NewError(wsproto.ActionSubscribeList, apperr.ErrCodeListNotFound, err.Error()))
	}
}

func (g *Gateway) handleUnsubscribeList(conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.UnsubscribeListMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.List == "" {
		conn.Send(wsproto.NewError(wsproto.ActionUnsubscribeList, apperr.ErrCodeMalformedMessage, "missing list"))
		return
	}
	g.engine.HandleUnsubscribeList(conn, msg.List)
	conn.Send(wsproto.NewUnsubscribedList(msg.List))
}

func (g *Gateway) handleResync(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.ResyncMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.List == "" {
		conn.Send(wsproto.NewError(wsproto.ActionResync, apperr.ErrCodeMalformedMessage, "missing list"))
		return
	}
	if err := g.engine.HandleResync(ctx, conn, msg.List); err != nil {
		conn.Send(wsproto.NewError(wsproto.ActionResync, apperr.ErrCodeListNotFound, err.Error()))
	}
}

// authorizeList implements spec.md §4.11 for uscan_-prefixed lists;
// non-scan lists and a disabled authenticator's anonymous principal
// skip the check entirely.
func (g *Gateway) authorizeList(ctx context.Context, principal auth.Principal, list string) *apperr.AppError {
	scanID, ok := wsproto.ScanIDFromList(list)
	if !ok || principal.IsAnonymous() {
		return nil
	}

	if owner, cached := g.ownership.Get(scanID); cached {
		if owner != principal.Subject {
			return apperr.ScanForbidden(scanID)
		}
		return nil
	}

	owner, err := g.client.GetString(ctx, redisx.ScanOwnerKey(scanID))
	if err != nil {
		if err == redisx.ErrNotFound {
			return apperr.ScanNotFound(scanID)
		}
		return apperr.InternalServer(err.Error())
	}

	g.ownership.Set(scanID, owner)
	if owner != principal.Subject {
		return apperr.ScanForbidden(scanID)
	}
	return nil
}

func (g *Gateway) handleSubscribeQuote(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.SubscribeQuoteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.Send(wsproto.NewError(wsproto.ActionSubscribeQuote, apperr.ErrCodeMalformedMessage, "could not parse message"))
		return
	}

	for _, symbol := range msg.All() {
		conn.Mu.Lock()
		conn.QuoteSymbols[symbol] = struct{}{}
		conn.Mu.Unlock()

		if g.index.SubscribeQuote(symbol, conn.ID) == subindex.TransitionSubscribe {
			g.upstream.PublishQuoteSubscribe(ctx, symbol)
		}
	}
}

func (g *Gateway) handleUnsubscribeQuote(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.UnsubscribeQuoteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.Send(wsproto.NewError(wsproto.ActionUnsubscribeQuote, apperr.ErrCodeMalformedMessage, "could not parse message"))
		return
	}

	for _, symbol := range msg.All() {
		conn.Mu.Lock()
		delete(conn.QuoteSymbols, symbol)
		conn.Mu.Unlock()

		if g.index.UnsubscribeQuote(symbol, conn.ID) == subindex.TransitionUnsubscribe {
			g.upstream.PublishQuoteUnsubscribe(ctx, symbol)
		}
	}
}

// handleSubscribeChart implements the "scanner demand dominates" rule
// of spec.md §4.7: a 0->1 chart ref-count transition only publishes
// upstream subscribe demand when the symbol isn't already driven by a
// scanner list.
func (g *Gateway) handleSubscribeChart(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.SubscribeChartMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		conn.Send(wsproto.NewError(wsproto.ActionSubscribeChart, apperr.ErrCodeMalformedMessage, "missing symbol"))
		return
	}

	conn.Mu.Lock()
	conn.ChartSymbols[msg.Symbol] = struct{}{}
	conn.Mu.Unlock()

	transition := g.index.SubscribeChart(msg.Symbol, conn.ID)
	if transition == subindex.TransitionSubscribe && !g.index.SymbolInAnyList(msg.Symbol) {
		g.upstream.PublishChartSubscribe(ctx, msg.Symbol)
	}
}

func (g *Gateway) handleUnsubscribeChart(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.UnsubscribeChartMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		conn.Send(wsproto.NewError(wsproto.ActionUnsubscribeChart, apperr.ErrCodeMalformedMessage, "missing symbol"))
		return
	}

	conn.Mu.Lock()
	delete(conn.ChartSymbols, msg.Symbol)
	conn.Mu.Unlock()

	transition := g.index.UnsubscribeChart(msg.Symbol, conn.ID)
	if transition == subindex.TransitionUnsubscribe && !g.index.SymbolInAnyList(msg.Symbol) {
		g.upstream.PublishChartUnsubscribe(ctx, msg.Symbol)
	}
}

func (g *Gateway) handlePing(conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.PingMsg
	_ = json.Unmarshal(raw, &msg)
	conn.Send(wsproto.NewPong(msg.Timestamp))
}

// handleRefreshToken re-verifies a new bearer token without closing the
// connection on failure (spec.md §4.1/§7).
func (g *Gateway) handleRefreshToken(ctx context.Context, conn *registry.Connection, raw json.RawMessage) {
	var msg wsproto.RefreshTokenMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.Send(wsproto.NewTokenRefreshFailed("could not parse message"))
		return
	}

	principal, err := g.auth.Authenticate(ctx, msg.Token)
	if err != nil {
		conn.Send(wsproto.NewTokenRefreshFailed(err.Error()))
		return
	}

	conn.Mu.Lock()
	conn.Principal = principal
	conn.Mu.Unlock()
	conn.Send(wsproto.NewTokenRefreshed())
}

// cleanupConnection unwinds every index entry a connection contributed
// to on close (spec.md §4.2's idempotent-destruction contract).
func (g *Gateway) cleanupConnection(conn *registry.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn.Mu.Lock()
	lists := make([]string, 0, len(conn.Lists))
	for list := range conn.Lists {
		lists = append(lists, list)
	}
	quoteSymbols := make([]string, 0, len(conn.QuoteSymbols))
	for symbol := range conn.QuoteSymbols {
		quoteSymbols = append(quoteSymbols, symbol)
	}
	chartSymbols := make([]string, 0, len(conn.ChartSymbols))
	for symbol := range conn.ChartSymbols {
		chartSymbols = append(chartSymbols, symbol)
	}
	conn.Mu.Unlock()

	for _, list := range lists {
		g.index.UnsubscribeList(list, conn.ID)
	}
	for _, symbol := range quoteSymbols {
		if g.index.UnsubscribeQuote(symbol, conn.ID) == subindex.TransitionUnsubscribe {
			g.upstream.PublishQuoteUnsubscribe(ctx, symbol)
		}
	}
	for _, symbol := range chartSymbols {
		transition := g.index.UnsubscribeChart(symbol, conn.ID)
		if transition == subindex.TransitionUnsubscribe && !g.index.SymbolInAnyList(symbol) {
			g.upstream.PublishChartUnsubscribe(ctx, symbol)
		}
	}

	logger.WebSocket().Debug().Str("conn", conn.ID).Msg("connection cleaned up")
}
