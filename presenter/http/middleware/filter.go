package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/omni/intent-bridge/presenter/http/render"
)

type ctxKey int

const (
	intentIDCtxKey ctxKey = iota
	limitCtxKey
)

const MaxLimit = 1000

var (
	ErrInvalidIntentID = errors.New("invalid intent id parameter")
	ErrInvalidLimit    = errors.New("invalid limit parameter")
)

func GetIntentIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "intentID")
		if raw == "" {
			raw = r.URL.Query().Get("intentId")
		}
		var intentID common.Hash
		if err := intentID.UnmarshalText([]byte(raw)); err != nil {
			render.BadRequest(w, r, fmt.Errorf("%w: %s", ErrInvalidIntentID, err))
			return
		}
		ctx := context.WithValue(r.Context(), intentIDCtxKey, intentID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func IntentID(ctx context.Context) common.Hash {
	if id, ok := ctx.Value(intentIDCtxKey).(common.Hash); ok {
		return id
	}
	return common.Hash{}
}

func GetLimitMiddleware(defaultLimit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := defaultLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.ParseUint(raw, 10, 32)
				if err != nil {
					render.BadRequest(w, r, fmt.Errorf("%w: %s", ErrInvalidLimit, err))
					return
				}
				if n > MaxLimit {
					render.BadRequest(w, r, fmt.Errorf("cannot request more than %d entries: %w", MaxLimit, ErrInvalidLimit))
					return
				}
				limit = int(n)
			}
			ctx := context.WithValue(r.Context(), limitCtxKey, limit)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func Limit(ctx context.Context) int {
	if limit, ok := ctx.Value(limitCtxKey).(int); ok {
		return limit
	}
	return 0
}
