package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/chainguard/internal/chain"
)

// DatabaseChecker reports whether the scan store's database answers pings.
func DatabaseChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// ChainChecker reports whether any chain in the registry has a dialable
// RPC client. A single reachable chain keeps scanning available.
func ChainChecker(registry *chain.Registry) Checker {
	return func(ctx context.Context) Status {
		chains := registry.Chains()
		for _, info := range chains {
			if _, err := registry.Client(info.ID); err == nil {
				return Status{Name: "chains", Healthy: true, Detail: fmt.Sprintf("%d configured", len(chains))}
			}
		}
		return Status{Name: "chains", Healthy: false, Detail: "no chain RPC client available"}
	}
}
