package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Njogu-Ndegwa/swapstation/internal/attendant"
	"github.com/Njogu-Ndegwa/swapstation/internal/binding"
	"github.com/Njogu-Ndegwa/swapstation/internal/energy"
)

const healthCheckTimeout = 5 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the station until interrupted",
		Long: `Connect to the bus and the radio, install the customer identification
watcher and wait for a shutdown signal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(nil)
			if err != nil {
				return err
			}
			log.Info("starting swap-station core", "version", version, "commit", commit, "build_date", date)

			a, err := newApp(cfg, log, wants{bus: true, radio: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err = a.healthCheck(checkCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			qos := byte(cfg.MQTT.QoS) // #nosec G115 -- validated to 0..2
			err = a.attendant.WatchIdentifications(qos, func(c attendant.Customer) {
				log.Info("customer presented", "plan_id", c.PlanID, "customer_id", c.ID, "name", c.Name)
			})
			if err != nil {
				return err
			}

			log.Info("initialisation complete, waiting for shutdown signal")
			<-ctx.Done()
			log.Info("shutdown signal received, cleaning up", "pending_calls", len(a.broker.Pending()))
			return nil
		},
	}
}

func newBindCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bind <code>",
		Short: "Locate a battery by its scanned code and read its energy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log, wants{radio: true})
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.machine.Bind(cmd.Context(), args[0])
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}
}

func newIdentifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "identify <plan-id> <code>",
		Short: "Identify a customer from a scanned code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log, wants{bus: true})
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.attendant.IdentifyCustomer(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "customer: %s\nname: %s\n", c.ID, c.Name)
			return nil
		},
	}
}

type paymentFlags struct {
	customer string
	amount   float64
	currency string
}

func newValidatePaymentCmd(opts *rootOptions) *cobra.Command {
	var f paymentFlags
	cmd := &cobra.Command{
		Use:   "validate-payment <plan-id> <reference>",
		Short: "Confirm a payment with the back office",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log, wants{bus: true})
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.attendant.ValidatePayment(cmd.Context(), args[0], attendant.PaymentRequest{
				CustomerID: f.customer,
				Reference:  args[1],
				Amount:     f.amount,
				Currency:   f.currency,
			})
			if err != nil {
				return err
			}
			status := "validated"
			if p.AlreadyValidated {
				status = "already validated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s: %s\n", p.Reference, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.customer, "customer", "", "Customer id the payment belongs to")
	cmd.Flags().Float64Var(&f.amount, "amount", 0, "Amount paid")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO currency code")
	return cmd
}

type swapFlags struct {
	customer string
	payment  string
	incoming string
	outgoing string
}

func newSwapCmd(opts *rootOptions) *cobra.Command {
	var f swapFlags
	cmd := &cobra.Command{
		Use:   "swap <plan-id>",
		Short: "Read the returned and issued batteries and report the swap",
		Long: `Bind the battery the customer returned, then the battery being issued,
and publish a swap_complete report carrying both readings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.incoming == "" || f.outgoing == "" {
				return fmt.Errorf("--incoming and --outgoing battery codes are required")
			}
			cfg, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log, wants{bus: true, radio: true})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			in, err := a.machine.Bind(ctx, f.incoming)
			printResult(out, in)
			if err != nil {
				return fmt.Errorf("reading returned battery: %w", err)
			}
			issued, err := a.machine.Bind(ctx, f.outgoing)
			printResult(out, issued)
			if err != nil {
				return fmt.Errorf("reading issued battery: %w", err)
			}

			err = a.attendant.ReportSwapComplete(ctx, args[0], attendant.SwapReport{
				CustomerID:      f.customer,
				PaymentRef:      f.payment,
				IncomingMAC:     in.Device.MAC,
				IncomingReading: in.Reading,
				OutgoingMAC:     issued.Device.MAC,
				OutgoingReading: issued.Reading,
			})
			if err != nil {
				return err
			}
			if a.influx != nil && in.Reading != nil && issued.Reading != nil {
				a.influx.WriteSwap(f.customer, *in.Reading, *issued.Reading)
			}
			fmt.Fprintln(out, "swap reported")
			return nil
		},
	}
	cmd.Flags().StringVar(&f.customer, "customer", "", "Customer id")
	cmd.Flags().StringVar(&f.payment, "payment", "", "Validated payment reference")
	cmd.Flags().StringVar(&f.incoming, "incoming", "", "Scanned code of the returned battery")
	cmd.Flags().StringVar(&f.outgoing, "outgoing", "", "Scanned code of the issued battery")
	return cmd
}

func newValidateConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(io.Discard)
			if err != nil {
				return err
			}
			radioState := "disabled"
			if cfg.Radio.Enabled {
				radioState = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: station %s (%s/%s), radio %s\n",
				cfg.Station.ID, cfg.Station.Domain, cfg.Station.Role, radioState)
			return nil
		},
	}
}

// printResult writes a human-readable binding outcome.
func printResult(w io.Writer, res binding.Result) {
	var b strings.Builder
	fmt.Fprintf(&b, "session: %s\nstate: %s\n", res.SessionID, res.State)
	if res.Device.MAC != "" {
		fmt.Fprintf(&b, "device: %s %s (rssi %s)\n", res.Device.MAC, res.Device.Name, res.Device.RSSI)
	}
	if res.Reading != nil {
		b.WriteString(formatReading(*res.Reading))
	}
	if res.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", res.Err)
	}
	fmt.Fprint(w, b.String())
}

func formatReading(r energy.Reading) string {
	return fmt.Sprintf("battery: %s\nenergy: %.2f Wh of %.2f Wh (%d%%)\n",
		r.BatteryID, r.EnergyWh, r.FullCapacityWh, r.ChargePercent)
}
