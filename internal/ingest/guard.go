package ingest

import (
	"fmt"
	"strings"

	"github.com/maauso/media-ingest-api/internal/config"
)

// Guard checks that every storage credential is present before a request
// is processed. Credentials are read once at construction.
type Guard struct {
	credentials []config.Credential
}

// NewGuard creates a Guard over the given credentials.
func NewGuard(credentials []config.Credential) *Guard {
	return &Guard{credentials: credentials}
}

// Check returns a KindConfiguration error naming the first missing
// credential. The name is for logs only.
func (g *Guard) Check() error {
	for _, c := range g.credentials {
		if strings.TrimSpace(c.Value) == "" {
			return newError(KindConfiguration, fmt.Errorf("%w: %s", ErrMissingCredential, c.Name))
		}
	}
	return nil
}
