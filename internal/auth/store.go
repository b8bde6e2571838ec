package auth

import "context"

// UserStore is the external authority a Connector calls out to once a
// token has been decoded: whether the token is still valid (not
// revoked, not expired server-side) and whether its user may read a
// given workspace. Mirrors CloudDatabase.verify_refresh_token and
// can_read_workspace in the original source; genuinely external per
// spec.md §1/§4.5, so this package never implements it — only defines
// the boundary and calls through it.
type UserStore interface {
	// VerifyRefreshToken reports whether rt is still valid.
	VerifyRefreshToken(ctx context.Context, rt *RefreshToken) (bool, error)

	// CanReadWorkspace reports whether userID may read workspaceID.
	CanReadWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
}
