package core

import "context"

type ctxKey int

const (
	socketKey ctxKey = iota
	sessionKey
	paramsKey
)

// BuildContext attaches the socket, session and params handed to component
// callbacks. socket is nil during the initial HTTP render.
func BuildContext(ctx context.Context, socket *Socket, session Session, params Params) context.Context {
	if socket != nil {
		ctx = context.WithValue(ctx, socketKey, socket)
	}
	ctx = context.WithValue(ctx, sessionKey, session)
	return context.WithValue(ctx, paramsKey, params)
}

// SocketFromContext returns the page socket, or nil outside a live session.
func SocketFromContext(ctx context.Context) *Socket {
	s, _ := ctx.Value(socketKey).(*Socket)
	return s
}

func SessionFromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey).(Session)
	return s
}

func ParamsFromContext(ctx context.Context) Params {
	p, _ := ctx.Value(paramsKey).(Params)
	return p
}
