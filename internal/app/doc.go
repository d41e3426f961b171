// Package app provides the application composition layer for the diamond
// ledger.
//
// # Architecture Role
//
// The app package sits above the domain, storage and service layers and is
// responsible for composing them into a running application. It is NOT a
// business logic layer - business logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── wallet/         # Wallets, journal entries, mutation legs
//	│   ├── burn/           # Fee-burn split, sink counters, settlements
//	│   ├── escrow/         # Escrow entries and transitions
//	│   ├── reconcile/      # Audit snapshots and the freeze flag
//	│   ├── fairness/       # Provably-fair RNG commitments
//	│   └── ledgererr/      # The shared business error taxonomy
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces and the atomic Mutation unit
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # Production store with embedded migrations
//	├── services/           # Business services
//	│   ├── ledger/         # Mutation engine: locks, freeze gate, fan-out
//	│   ├── burnfee/        # Fee-burn settlement
//	│   ├── streak/         # Daily-claim streaks and multipliers
//	│   ├── escrow/         # Wager escrow lifecycle
//	│   ├── reconcile/      # Auditor and its poller
//	│   └── fairness/       # RNG commit/reveal oracle
//	├── events/             # Event payloads and the Kafka publisher
//	├── httpapi/            # REST handlers
//	├── metrics/            # Prometheus collectors
//	├── scheduler/          # Cron-driven maintenance jobs
//	├── system/             # Service lifecycle manager
//	└── runtime/            # Process assembly: config, server, shutdown
//
// Every balance change in the system flows through the ledger engine's
// Apply, which gives all services the same locking, freeze and audit
// discipline.
package app
