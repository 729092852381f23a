// Package app composes the chain layer into a running service.
//
// The layout separates composition from business logic:
//
//	internal/app/
//	├── domain/             # Pure data models shared across services
//	│   ├── plan/           # Creator subscription plans
//	│   ├── checkout/       # Checkout sessions and price breakdowns
//	│   ├── payment/        # Submission records, statuses, error kinds
//	│   └── entitlement/    # Cached entitlement verdicts and subscriptions
//	├── storage/            # Store interfaces plus memory and postgres backends
//	├── txbuilder/          # Unsigned envelope construction
//	├── signing/            # Wallet signing broker
//	├── submit/             # Submission coordinator state machine
//	├── services/           # Business logic (checkout, entitlement, renewal)
//	├── httpapi/            # HTTP handlers and routing
//	├── system/             # Background service lifecycle contract
//	├── metrics/            # Prometheus collectors
//	└── runtime/            # Application wiring and lifecycle
//
// Domain packages hold data, not behavior. Storage interfaces live next to
// the models so services depend on small contracts rather than a concrete
// backend. The runtime package is the only place that knows which backend,
// cache and ledger endpoints a deployment uses.
package app
