package httpx

import (
	"context"

	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyUserID  ctxKey = "user_id"
	CtxKeyRoleIDs ctxKey = "role_ids"
	CtxKeyClaims  ctxKey = "claims"
)

// UserIDFromContext returns the subject of the verified access token, empty
// on unauthenticated routes.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CtxKeyUserID).(string)
	return v
}

func RoleIDsFromContext(ctx context.Context) []int {
	v, _ := ctx.Value(CtxKeyRoleIDs).([]int)
	return v
}

func ClaimsFromContext(ctx context.Context) (jwtx.AccessClaims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.AccessClaims)
	return c, ok
}
