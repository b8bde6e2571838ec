package main

import (
	"context"

	"github.com/Polqt/workspacesync/internal/auth"
)

// allowAllUserStore is the bootstrap auth.UserStore wired by the serve
// command when no external user-store integration is configured: every
// decrypted token is accepted and every user may read every workspace.
// The real authorization decision belongs to the external user/account
// service spec.md §1 treats as out of scope; this exists only so `serve`
// has something to call until that integration is wired in.
type allowAllUserStore struct{}

func (allowAllUserStore) VerifyRefreshToken(ctx context.Context, rt *auth.RefreshToken) (bool, error) {
	return true, nil
}

func (allowAllUserStore) CanReadWorkspace(ctx context.Context, userID, workspaceID string) (bool, error) {
	return true, nil
}
