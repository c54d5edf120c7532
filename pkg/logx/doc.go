// Package logx configures remindbot's structured logging.
//
// It wraps zerolog with a small value-type Logger so components can carry
// fixed fields (comp=..., pass_id=...) and still follow runtime level/sink
// changes applied by the Service on config hot-reload:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
package logx
