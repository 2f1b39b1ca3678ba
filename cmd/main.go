// Command firm runs a team of role agents on a product idea and lets an
// operator steer the run.
//
// Usage:
//
//	firm run --idea "A todo app for small teams"
//	firm -c firm.yaml run --idea-file idea.md
//	firm ctl pause --role developer
//	firm ctl inject --role architect "prefer boring tech"
//	firm ctl status
//	firm config show
//	firm inspect snapshots --project prj_...
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := buildApp(appIO{in: os.Stdin, out: os.Stdout, errOut: os.Stderr})
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
