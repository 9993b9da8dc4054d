package internal

import "context"

// ShareResolver turns a share link into its downloadable files
type ShareResolver interface {
	Resolve(ctx context.Context, req ResolutionRequest) (*ResolutionResult, error)
}

// AuthManager loads and validates the cookie material sent upstream
type AuthManager interface {
	LoadCookies(path string) (map[string]string, error)
	ValidateSession(cookies map[string]string) error
}
