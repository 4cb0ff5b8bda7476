// Package logctx carries request, verification, and exchange identifiers on
// the context and folds them into slog records emitted underneath.
package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with verification and exchange context carried
// on the request context. Install it by wrapping the application's base
// handler:
//
//	slog.SetDefault(slog.New(logctx.Handler{Handler: base}))
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("user_agent", rd.UserAgent),
		))
	}

	if vd, ok := ctx.Value(verifyDataKey{}).(*VerifyData); ok {
		r.AddAttrs(slog.Group("verify",
			slog.String("kid", vd.KeyID),
			slog.String("issuer", vd.Issuer),
		))
	}

	if ed, ok := ctx.Value(exchangeDataKey{}).(*ExchangeData); ok {
		r.AddAttrs(slog.Group("obo",
			slog.String("id", ed.ExchangeID),
			slog.String("strategy", ed.Strategy),
			slog.String("scope", ed.Scope),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies the inbound request being served. It is populated
// by the hosting transport, not by this library.
type RequestData struct {
	RequestID  string
	RemoteAddr string
	UserAgent  string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type verifyDataKey struct{}

// VerifyData carries per-verification context for log decoration.
type VerifyData struct {
	KeyID  string
	Issuer string
}

func WithVerifyData(ctx context.Context, data *VerifyData) context.Context {
	return context.WithValue(ctx, verifyDataKey{}, data)
}

type exchangeDataKey struct{}

// ExchangeData carries per-exchange context for log decoration.
type ExchangeData struct {
	ExchangeID string
	Strategy   string
	Scope      string
}

func WithExchangeData(ctx context.Context, data *ExchangeData) context.Context {
	return context.WithValue(ctx, exchangeDataKey{}, data)
}
