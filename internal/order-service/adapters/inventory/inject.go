// Package inventory holds the transports the retry client uses to reach the
// inventory service's reservation endpoint, over HTTP or gRPC. Both accept a
// faults.Injector so failures can be provoked deterministically.
package inventory

import (
	"context"
	"fmt"

	"github.com/jcmexdev/inventory-sagas/internal/pkg/faults"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/retry"
)

// applyFault consults the injector for this call. It waits out any injected
// delay and returns the injected error, if any.
func applyFault(ctx context.Context, inj faults.Injector, req reservation.Request) (faults.Fault, error) {
	if inj == nil {
		return faults.Fault{}, nil
	}
	f := inj.Inject(faults.Call{Attempt: retry.AttemptFrom(ctx), IdempotencyKey: req.IdempotencyKey})
	if f.Delay > 0 {
		if err := sleep(ctx, f.Delay); err != nil {
			return f, fmt.Errorf("injected delay: %w", err)
		}
	}
	if f.Err != nil {
		return f, f.Err
	}
	return f, nil
}
