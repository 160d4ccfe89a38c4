package remote

import (
	"context"
	"fmt"
	"strings"
)

// Runner is the remote execution channel every stage goes through: a script,
// optional arguments, one string back. Implementations surface connectivity
// and authorization problems as errors; stages convert those into unit
// failures rather than letting them propagate.
type Runner interface {
	Host() string
	Run(ctx context.Context, script string, args ...string) (string, error)
}

// quoteArgs renders arguments so the remote shell sees each one as a single
// word, including empty strings.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = fmt.Sprintf("'%s'", strings.ReplaceAll(arg, "'", `'\''`))
	}
	return strings.Join(quoted, " ")
}
