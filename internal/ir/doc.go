// Package ir provides the shared record and value types for procflow.
//
// This package contains type definitions and their serialization only. All
// other internal packages import ir; ir imports nothing internal, which
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Variable values are constrained to Value; numbers are int64 when
//     integral and canonical Decimal text otherwise
//   - Variable values are persisted as canonical JSON with NFC-normalized strings
//   - Audit records are plain values; nothing returned from the store is
//     attached to a live persistence context
//   - All JSON tags use snake_case
package ir
