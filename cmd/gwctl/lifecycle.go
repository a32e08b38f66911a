package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

type lifecycleReport struct {
	Gateway              string            `json:"gateway"`
	State                payment.State     `json:"state"`
	RootAuthorization    string            `json:"root_authorization,omitempty"`
	NetworkTransactionID string            `json:"network_transaction_id,omitempty"`
	Steps                []payment.Step    `json:"steps"`
	Results              []*payment.Result `json:"results"`
	Deviation            string            `json:"deviation,omitempty"`
}

// lifecycleCmd runs authorize, capture and void as one chain and reports
// how the gateway answered the void after capture.
func (a *app) lifecycleCmd() *cobra.Command {
	var (
		amount   int64
		capture  int64
		skipVoid bool
		m        methodFlags
		o        optionFlags
	)
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run authorize, capture and void against one gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := m.method()
			if err != nil {
				return err
			}
			gw, err := a.resolve(a)
			if err != nil {
				return err
			}
			if capture == 0 {
				capture = amount
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			tr := httpclient.NewTranscript()
			if a.transcript {
				ctx = httpclient.WithTranscript(ctx, tr)
			}

			report, err := runLifecycle(ctx, gw, amount, capture, !skipVoid, method, o.options())
			if a.transcript {
				fmt.Fprintln(a.out, "# transcript")
				fmt.Fprintln(a.out, gw.Scrub(tr.String()))
			}
			if err != nil {
				return err
			}
			return a.print(report)
		},
	}
	cmd.Flags().Int64VarP(&amount, "amount", "a", 100, "Authorized amount in minor units")
	cmd.Flags().Int64Var(&capture, "capture", 0, "Captured amount in minor units (defaults to --amount)")
	cmd.Flags().BoolVar(&skipVoid, "skip-void", false, "Stop after the capture")
	m.bind(cmd)
	o.bind(cmd)
	return cmd
}

func runLifecycle(ctx context.Context, gw payment.Gateway, amount, capture int64, void bool, method payment.Method, opts payment.Options) (*lifecycleReport, error) {
	tx := payment.NewTransaction(gw.Name())
	report := &lifecycleReport{Gateway: gw.Name()}

	step := func(op payment.Operation, amt int64, call func() (*payment.Result, error)) (bool, error) {
		if err := tx.Check(op); err != nil {
			return false, err
		}
		r, err := call()
		if err != nil {
			return false, err
		}
		tx.Record(op, amt, r)
		report.Results = append(report.Results, r)
		return r.Success(), nil
	}

	finish := func() *lifecycleReport {
		report.State = tx.State()
		report.RootAuthorization = tx.RootAuthorization()
		report.NetworkTransactionID = tx.NetworkTransactionID()
		report.Steps = tx.History()
		return report
	}

	ok, err := step(payment.OpAuthorize, amount, func() (*payment.Result, error) {
		return gw.Authorize(ctx, amount, method, opts)
	})
	if err != nil || !ok {
		return finish(), err
	}
	ok, err = step(payment.OpCapture, capture, func() (*payment.Result, error) {
		return gw.Capture(ctx, capture, tx.Authorization(), opts)
	})
	if err != nil || !ok || !void {
		return finish(), err
	}
	ok, err = step(payment.OpVoid, 0, func() (*payment.Result, error) {
		return gw.Void(ctx, tx.Authorization(), opts)
	})
	if err != nil {
		return finish(), err
	}

	switch policy := gw.Capabilities().VoidAfterCapture; {
	case ok && policy == payment.VoidAfterCaptureRejected:
		report.Deviation = "void after capture was accepted but the gateway declares it rejected"
	case !ok && policy == payment.VoidAfterCaptureAccepted:
		report.Deviation = "void after capture was rejected but the gateway declares it accepted"
	}
	return finish(), nil
}
