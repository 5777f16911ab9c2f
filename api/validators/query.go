package validators

import (
	"net/http"
	"strings"

	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
)

// ParsePurchaseStatusQuery returns nil when the parameter is absent.
func ParsePurchaseStatusQuery(r *http.Request, key string) (*enums.PurchaseStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	status, err := enums.ParsePurchaseStatus(raw)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown purchase status").WithDetails(map[string]any{"field": key})
	}
	return &status, nil
}
