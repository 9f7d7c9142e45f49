// Package logx configures annobot's structured logging.
//
// It is a thin wrapper over zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The level swappable at runtime via Service.Apply (config hot reload)
package logx
