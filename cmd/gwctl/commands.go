package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/gateway"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

func (a *app) saleCmd(op, short string) *cobra.Command {
	var (
		amount int64
		m      methodFlags
		o      optionFlags
	)
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := m.method()
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, gw payment.Gateway) (*payment.Result, error) {
				return gateway.Call(ctx, gw, payment.Operation(op), gateway.Request{Amount: amount, Options: o.options(), PaymentMethod: method})
			})
		},
	}
	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Amount in minor units")
	m.bind(cmd)
	o.bind(cmd)
	return cmd
}

func (a *app) followUpCmd(op, short string, withAmount bool) *cobra.Command {
	var (
		amount int64
		o      optionFlags
	)
	cmd := &cobra.Command{
		Use:   op + " [authorization]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, gw payment.Gateway) (*payment.Result, error) {
				return gateway.Call(ctx, gw, payment.Operation(op), gateway.Request{Amount: amount, Authorization: args[0], Options: o.options()})
			})
		},
	}
	if withAmount {
		cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Amount in minor units")
	}
	o.bind(cmd)
	return cmd
}

func (a *app) methodCmd(op, short string) *cobra.Command {
	var (
		m methodFlags
		o optionFlags
	)
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := m.method()
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, gw payment.Gateway) (*payment.Result, error) {
				return gateway.Call(ctx, gw, payment.Operation(op), gateway.Request{Options: o.options(), PaymentMethod: method})
			})
		},
	}
	m.bind(cmd)
	o.bind(cmd)
	return cmd
}

func (a *app) unstoreCmd() *cobra.Command {
	var o optionFlags
	cmd := &cobra.Command{
		Use:   "unstore [token]",
		Short: "Remove a vaulted payment method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, gw payment.Gateway) (*payment.Result, error) {
				return gw.Unstore(ctx, args[0], o.options())
			})
		},
	}
	o.bind(cmd)
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var (
		m methodFlags
		o optionFlags
	)
	cmd := &cobra.Command{
		Use:   "update [token]",
		Short: "Replace the card behind a vaulted token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := m.method()
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, gw payment.Gateway) (*payment.Result, error) {
				return gw.Update(ctx, args[0], method, o.options())
			})
		},
	}
	m.bind(cmd)
	o.bind(cmd)
	return cmd
}

func (a *app) scrubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrub",
		Short: "Filter a transcript read from stdin with the gateway's rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.resolve(a)
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(a.in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.out, gw.Scrub(string(raw)))
			return err
		},
	}
}

func (a *app) gatewaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "List the gateways configured in the fixtures file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgs, err := config.LoadGateways(a.fixtures)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfgs))
			for name := range cfgs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				cfg := cfgs[name]
				mode := "live"
				if cfg.Test {
					mode = "test"
				}
				fmt.Fprintf(a.out, "%s\t%s\t%s\n", name, cfg.Type, mode)
			}
			return nil
		},
	}
}
