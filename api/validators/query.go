package validators

import (
	"net/http"

	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

const maxQueryValueLen = 128

// QueryString returns a trimmed query parameter, rejecting oversized values.
func QueryString(r *http.Request, key string) (string, error) {
	raw := r.URL.Query().Get(key)
	if len(raw) > maxQueryValueLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "query parameter too long").WithDetails(map[string]any{"field": key, "max": maxQueryValueLen})
	}
	return SanitizeString(raw, maxQueryValueLen), nil
}
