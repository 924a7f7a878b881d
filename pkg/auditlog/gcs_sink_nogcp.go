//go:build !gcp

package auditlog

import (
	"context"
	"fmt"
)

func newGCSSink(ctx context.Context, cfg Config) (Sink, error) {
	return nil, fmt.Errorf("GCS audit sink is not enabled in this build (use -tags gcp)")
}
