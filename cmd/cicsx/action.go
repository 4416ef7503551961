package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rflorenc/cics-explorer/internal/action"
	"github.com/rflorenc/cics-explorer/internal/cmci"
	"github.com/rflorenc/cics-explorer/internal/models"
)

func newActionCmd(a *app) *cobra.Command {
	var (
		scope     scopeFlags
		wait      bool
		parameter string
	)
	cmd := &cobra.Command{
		Use:   "action <profile> <kind> <action> <name>...",
		Short: "Run an action against resources",
		Long: `Run an action against one or more resources. Items run one after the
other; a failing item does not stop the rest. Ctrl-C skips the items not
yet started.

Examples:
  cicsx action dev program NEWCOPY PAY01 PAY02
  cicsx action dev localfile CLOSE FILEA --wait
  cicsx action dev bundle DISABLE MYBUNDLE --region IYK2ZXXX`,
		Args: cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := a.openContainer(args[0], args[1], scope)
			if err != nil {
				return err
			}
			kind := ct.Kind()
			act := strings.ToUpper(args[2])
			if !action.Valid(act) || !kind.Supports(act) {
				return fmt.Errorf("action %s is not supported for %s (supported: %s)",
					act, kind.Label, strings.Join(kind.Actions, ", "))
			}

			var param *cmci.Parameter
			if parameter != "" {
				name, value, _ := strings.Cut(parameter, "=")
				param = &cmci.Parameter{Name: name, Value: value}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			targets, err := ct.FetchResources(ctx, args[3:]...)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return fmt.Errorf("no %s matching %s", kind.Label, strings.Join(args[3:], ", "))
			}
			return a.runBatch(ctx, cmd, ct, kind.Name, act, param, targets, wait)
		},
	}
	scope.bind(cmd.Flags())
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until each resource reaches the state the action implies")
	cmd.Flags().StringVar(&parameter, "parameter", "", "Action parameter as NAME=VALUE")
	return cmd
}

func (a *app) runBatch(ctx context.Context, cmd *cobra.Command, ct action.Collection, kind, act string,
	param *cmci.Parameter, targets []models.Resource, wait bool) error {
	items := make([]action.Item, 0, len(targets))
	for _, t := range targets {
		items = append(items, action.Item{
			Collection: ct,
			Request:    action.Request{Action: act, Target: t, Parameter: param},
		})
	}
	var until action.Until
	if wait {
		until = action.Expect(ct.Kind(), act)
	}

	out := cmd.OutOrStdout()
	res := a.executor.RunBatch(ctx, items, until, func(ir action.ItemResult) {
		target := items[ir.Index].Request.Target
		switch {
		case ir.Skipped:
			fmt.Fprintf(out, "SKIPPED  %s %s\n", ir.Name, target.Region())
		case ir.Err != nil:
			fmt.Fprintf(out, "FAILED   %s %s: %v\n", ir.Name, target.Region(), ir.Err)
		default:
			status := ""
			if r := ir.Outcome.Resource; r != nil {
				status = r.Status()
			}
			fmt.Fprintf(out, "OK       %s %s %s %s\n", ir.Name, target.Region(), ir.Outcome.Status, status)
		}
	})
	for key, err := range res.RefreshErrors {
		a.log.Warn().Err(err).Str("collection", key).Msg("refresh failed")
	}
	if failed := res.Failed(); failed > 0 {
		return fmt.Errorf("%s %s: %d of %d item(s) failed", act, kind, failed, len(items))
	}
	return nil
}
