package jobs

import (
	"context"
	"fmt"
)

// AccountRefresher re-reads provider account data into the account cache.
type AccountRefresher interface {
	RefreshAccounts(ctx context.Context, logf func(format string, args ...any)) (refreshed, failed int, err error)
}

// PaymentRefresher polls the settlement rail for unsettled payments.
type PaymentRefresher interface {
	RefreshStatuses(ctx context.Context, logf func(format string, args ...any)) (checked, failed int, err error)
}

// RefreshAccountsRunner is the REFRESH_ACCOUNTS job.
func RefreshAccountsRunner(a AccountRefresher) Runner {
	return func(ctx context.Context, logf func(string, ...any)) (string, error) {
		refreshed, failed, err := a.RefreshAccounts(ctx, logf)
		return summarize("consents refreshed", refreshed, failed, err)
	}
}

// RefreshPaymentsRunner is the REFRESH_PAYMENTS job.
func RefreshPaymentsRunner(p PaymentRefresher) Runner {
	return func(ctx context.Context, logf func(string, ...any)) (string, error) {
		checked, failed, err := p.RefreshStatuses(ctx, logf)
		return summarize("payments checked", checked, failed, err)
	}
}

func summarize(what string, done, failed int, err error) (string, error) {
	details := fmt.Sprintf("%d %s, %d failed", done, what, failed)
	if err != nil {
		return details, err
	}
	if failed > 0 {
		return details, fmt.Errorf("%d items failed", failed)
	}
	return details, nil
}
