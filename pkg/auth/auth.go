// Package auth supplies the account OAuth token used by the token endpoint
// and the cloud API. Obtaining the token is out of scope; it is read from
// configuration or a file kept fresh by another tool.
package auth

import (
	"context"
	"os"
	"strings"

	"github.com/quasar-go/glagol-go/pkg/fault"
)

// ErrNoCredentials is returned when no OAuth token is available.
var ErrNoCredentials = fault.New(fault.Auth, "no oauth token")

// Credentials provides the account OAuth token.
type Credentials interface {
	OAuthToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed OAuth token.
type StaticToken string

// OAuthToken returns the token.
func (t StaticToken) OAuthToken(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoCredentials
	}
	return string(t), nil
}

// FileToken reads the token from a file on every call, so an external
// refresher can rotate it without restarting the bridge.
type FileToken struct {
	Path string
}

// OAuthToken returns the trimmed file contents.
func (f FileToken) OAuthToken(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fault.Wrap(fault.Auth, "read token file", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

var (
	_ Credentials = StaticToken("")
	_ Credentials = FileToken{}
)
