/*
Package api implements the stint HTTP API for downstream consumers.

The API is the read boundary of the accounting engine: reporting UIs,
reward systems, and the stint CLI all consume totals, history, gaps,
and diagnostic counters through it. The only writes it carries are
enrollment and un-enrollment, which it delegates to the coordinator;
there is no mutating ledger path, by construction.

# Endpoints

	GET    /v1/entities              enrolled entities with totals joined
	POST   /v1/entities              enroll {"name": "..."}
	DELETE /v1/entities/:id          un-enroll (archive); id or name
	GET    /v1/entities/:id/total    current open-epoch total
	GET    /v1/entities/:id/history  day aggregates, ?days=N (default 7)
	GET    /v1/entities/:id/stream   SSE stream of accounting events
	GET    /v1/gaps                  suspected accounting gaps
	GET    /v1/counters              diagnostic drop/correction counters
	GET    /v1/status                health summary
	GET    /healthz                  process liveness
	GET    /readyz                   readiness (critical components)
	GET    /metrics                  prometheus

Entity routes accept either the entity ID or its name: the CLI passes
names, consumers usually store IDs.

# Streaming

/v1/entities/:id/stream forwards broker events as server-sent events,
filtered to the entity plus the global pipeline events (liveness
degraded/restored). A ping event every 15 seconds keeps intermediaries
from closing the idle connection. The server sets no write timeout for
this reason.

# Read-only mode

With readOnly set at construction, a guard middleware refuses every
non-GET request. Deployments that expose the API beyond localhost run
it read-only and keep enrollment on the local listener.

# Usage

	srv := api.NewServer(coord, store, broker, false)
	if err := srv.Start(cfg.APIAddr); err != nil {
		return err
	}
	defer srv.Stop(ctx)

Start returns once the listener is bound and serves in the background;
a bound listener is the readiness signal the "api" health component
reports.
*/
package api
