// Package diag dumps the wrapped error chain of a rejected kernel
// configuration (initKernel / createEvent failures) for operator
// debugging, wiring pkg/fmtt's existing error-chain dumper instead of
// duplicating it.
package diag

import (
	"errors"
	"fmt"

	"github.com/pceos/kernel/pkg/fmtt"
)

// DumpConfigError prints err's full chain -- type, message, a
// spew.Dump of each layer's fields -- via fmtt.PrintErrChainDebug. Use
// from an interactive debugging session against a rejected
// configuration; production code paths use ChainString instead, since
// server output should be structured through zap, not printed to
// stdout.
func DumpConfigError(err error) {
	fmtt.PrintErrChainDebug(err)
}

// ChainString renders the same error-chain walk as a string, for
// embedding in a zap field -- cmd/pceosd's startup-rejection log lines
// use this instead of DumpConfigError.
func ChainString(err error) string {
	var out string
	for i := 0; err != nil; err = errors.Unwrap(err) {
		out += fmt.Sprintf("[%d] %T: %v\n", i, err, err)
		i++
	}
	return out
}
