//go:build noprom

package metrics

import (
	"errors"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
)

var errPromDisabled = errors.New("prometheus support compiled out (noprom)")

func enablePrometheus(addr string) error {
	logging.L().Warn("METRICS_PROMETHEUS is set but this binary was built with -tags noprom", "addr", addr)
	return errPromDisabled
}
