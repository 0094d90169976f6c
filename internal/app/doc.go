// Package app composes the relay: it picks the ledger provider and topic
// store from configuration, builds the anchoring, transfer and balance
// services on top of them, and owns the HTTP server lifecycle.
//
// Business rules live in the service packages (internal/topic,
// internal/anchor, internal/transfer, internal/balance). Nothing here
// talks to the ledger directly.
//
// Dependency flow:
//
//	cmd/relay
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/httpapi ──► internal/middleware
//	      │
//	      ├──► topic, anchor, transfer, balance
//	      │           │
//	      │           └──► internal/ledger (Connector, Do)
//	      │
//	      └──► ledger/hedera | ledger/memledger, topic/store
package app
