package infra

import (
	"fmt"

	"rpc-gateway/middleware/ratelimit/domain"
)

func errInvalidQuota(key domain.Key, q domain.Quota) error {
	return fmt.Errorf("invalid quota for %q: points=%d window=%s", key, q.Points, q.Window)
}
