package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/action"
	"github.com/roach88/valetsync/internal/catalog"
	"github.com/roach88/valetsync/internal/session"
)

// ActionOptions holds flags shared by every action command.
type ActionOptions struct {
	*RootOptions
	As       string   // employee running the action
	Payments []string // --pay lines
}

// OutcomeView is the printable form of an action outcome.
type OutcomeView struct {
	Action   string `json:"action"`
	State    string `json:"state"`
	Affected int    `json:"affected"`
	Level    string `json:"level,omitempty"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func viewOutcome(out action.Outcome) OutcomeView {
	v := OutcomeView{
		Action:   out.Action,
		State:    string(out.State),
		Affected: out.Affected,
		Level:    string(out.Confirmation.Level),
		Title:    out.Confirmation.Title,
		Message:  out.Confirmation.Message,
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
		var aerr *action.Error
		if errors.As(out.Err, &aerr) {
			v.Kind = string(aerr.Kind)
		}
	}
	return v
}

func (v OutcomeView) String() string {
	switch {
	case v.Title != "":
		return fmt.Sprintf("[%s] %s: %s (%s, %d affected)", v.Level, v.Title, v.Message, v.State, v.Affected)
	case v.Error != "":
		return fmt.Sprintf("%s %s: %s", v.Action, v.State, v.Error)
	default:
		return fmt.Sprintf("%s %s", v.Action, v.State)
	}
}

// actionCommand describes one action subcommand.
type actionCommand struct {
	use     string
	short   string
	example string
	args    cobra.PositionalArgs
	pay     bool // accepts --pay
	flags   func(cmd *cobra.Command)
	run     func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error)
}

// NewActionCommands creates one command per valet action.
func NewActionCommands(rootOpts *RootOptions) []*cobra.Command {
	var (
		plate, brand, model string
		quantity            int
		amount, description string
		reason              string
	)
	brands := catalog.Default()

	defs := []actionCommand{
		{
			use:     "accept-entry <stay-id>",
			short:   "Claim a new entry; the first valet wins",
			example: "valetsync accept-entry --as valet-x stay-101",
			args:    cobra.ExactArgs(1),
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				return s.Actions.AcceptEntry(ctx, args[0]), nil
			},
		},
		{
			use:     "register-vehicle <stay-id>",
			short:   "Register the guest's vehicle, optionally collecting the stay charge",
			example: "valetsync register-vehicle --as valet-y stay-201 --plate XYZ-987 --brand nissan --pay 300:CASH --pay 200:CARD:BBVA",
			args:    cobra.ExactArgs(1),
			pay:     true,
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&plate, "plate", "", "license plate (required)")
				cmd.Flags().StringVar(&brand, "brand", "", "vehicle brand")
				cmd.Flags().StringVar(&model, "model", "", "vehicle model")
				_ = cmd.MarkFlagRequired("plate")
			},
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				payments, err := parsePayments(opts.Payments)
				if err != nil {
					return action.Outcome{}, err
				}
				return s.Actions.RegisterVehicle(ctx, action.VehicleInput{
					StayID:   args[0],
					Plate:    plate,
					Brand:    canonicalBrand(brands, brand),
					Model:    model,
					Payments: payments,
				}), nil
			},
		},
		{
			use:     "propose-checkout <stay-id>",
			short:   "Take charge of a checkout and tell reception",
			example: "valetsync propose-checkout --as valet-x stay-102",
			args:    cobra.ExactArgs(1),
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				return s.Actions.ProposeCheckout(ctx, args[0]), nil
			},
		},
		{
			use:     "confirm-checkout <stay-id>",
			short:   "Confirm the vehicle was handed over, optionally collecting the balance",
			example: "valetsync confirm-checkout --as valet-x stay-102 --pay 500:CASH",
			args:    cobra.ExactArgs(1),
			pay:     true,
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				payments, err := parsePayments(opts.Payments)
				if err != nil {
					return action.Outcome{}, err
				}
				return s.Actions.ConfirmCheckout(ctx, action.CheckoutInput{StayID: args[0], Payments: payments}), nil
			},
		},
		{
			use:     "accept-items <item-id>...",
			short:   "Accept room service items for delivery",
			example: "valetsync accept-items --as valet-x item-203-a item-203-b",
			args:    cobra.MinimumNArgs(1),
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				if len(args) == 1 {
					return s.Actions.AcceptConsumption(ctx, args[0]), nil
				}
				return s.Actions.AcceptConsumptions(ctx, args), nil
			},
		},
		{
			use:     "mark-in-transit <item-id>",
			short:   "Mark an accepted item as on the way",
			example: "valetsync mark-in-transit --as valet-x item-203-a",
			args:    cobra.ExactArgs(1),
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				return s.Actions.MarkInTransit(ctx, args[0]), nil
			},
		},
		{
			use:     "deliver-items <item-id>...",
			short:   "Mark room service items as delivered",
			example: "valetsync deliver-items --as valet-x item-203-a item-203-b",
			args:    cobra.MinimumNArgs(1),
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				if len(args) == 1 {
					return s.Actions.DeliverConsumption(ctx, args[0]), nil
				}
				return s.Actions.DeliverConsumptions(ctx, args), nil
			},
		},
		{
			use:     "cancel-item <item-id>",
			short:   "Cancel a room service item",
			example: `valetsync cancel-item --as valet-x item-203-c --reason "guest left"`,
			args:    cobra.ExactArgs(1),
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&reason, "reason", "", "why the item was cancelled")
			},
			run: func(ctx context.Context, s *session.Session, _ *ActionOptions, args []string) (action.Outcome, error) {
				return s.Actions.CancelConsumption(ctx, args[0], reason), nil
			},
		},
		{
			use:     "report-damage <stay-id>",
			short:   "Charge a damage to the stay and tell reception",
			example: `valetsync report-damage --as valet-x stay-102 --amount 350 --description "broken lamp"`,
			args:    cobra.ExactArgs(1),
			pay:     true,
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&amount, "amount", "", "damage amount (required)")
				cmd.Flags().StringVar(&description, "description", "", "what was damaged")
				_ = cmd.MarkFlagRequired("amount")
			},
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				amt, err := decimal.NewFromString(amount)
				if err != nil {
					return action.Outcome{}, fmt.Errorf("invalid --amount %q", amount)
				}
				in, err := chargeInput(args[0], 1, opts)
				if err != nil {
					return action.Outcome{}, err
				}
				in.Amount = amt
				in.Description = description
				return s.Actions.ReportDamage(ctx, in), nil
			},
		},
		{
			use:     "extra-hour <stay-id>",
			short:   "Charge extra hours at the room tariff",
			example: "valetsync extra-hour --as valet-x stay-203 --quantity 2 --pay 300:CASH",
			args:    cobra.ExactArgs(1),
			pay:     true,
			flags: func(cmd *cobra.Command) {
				cmd.Flags().IntVar(&quantity, "quantity", 1, "number of hours")
			},
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				in, err := chargeInput(args[0], quantity, opts)
				if err != nil {
					return action.Outcome{}, err
				}
				return s.Actions.RegisterExtraHour(ctx, in), nil
			},
		},
		{
			use:     "extra-person <stay-id>",
			short:   "Charge extra people at the room tariff",
			example: "valetsync extra-person --as valet-x stay-203 --quantity 1",
			args:    cobra.ExactArgs(1),
			pay:     true,
			flags: func(cmd *cobra.Command) {
				cmd.Flags().IntVar(&quantity, "quantity", 1, "number of people")
			},
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				in, err := chargeInput(args[0], quantity, opts)
				if err != nil {
					return action.Outcome{}, err
				}
				return s.Actions.RegisterExtraPerson(ctx, in), nil
			},
		},
		{
			use:     "verify-room-change <item-id>",
			short:   "Verify a room change adjustment, collecting any difference",
			example: "valetsync verify-room-change --as valet-x item-301-change --pay 150:CASH",
			args:    cobra.ExactArgs(1),
			pay:     true,
			run: func(ctx context.Context, s *session.Session, opts *ActionOptions, args []string) (action.Outcome, error) {
				payments, err := parsePayments(opts.Payments)
				if err != nil {
					return action.Outcome{}, err
				}
				return s.Actions.VerifyRoomChange(ctx, args[0], payments), nil
			},
		},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		cmds = append(cmds, newActionCommand(rootOpts, def))
	}
	return cmds
}

func newActionCommand(rootOpts *RootOptions, def actionCommand) *cobra.Command {
	opts := &ActionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           def.use,
		Short:         def.short,
		Example:       "  " + def.example,
		Args:          def.args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, def, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "employee id running the action (required)")
	_ = cmd.MarkFlagRequired("as")
	if def.pay {
		cmd.Flags().StringArrayVar(&opts.Payments, "pay", nil, "payment line AMOUNT:METHOD[:TERMINAL[:LAST4[:REFERENCE]]] (repeatable)")
	}
	if def.flags != nil {
		def.flags(cmd)
	}
	return cmd
}

func runAction(opts *ActionOptions, def actionCommand, cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.signIn(ctx, opts.As)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := def.run(ctx, s, opts, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}
	slog.Debug("action finished", "action", out.Action, "state", out.State, "affected", out.Affected)

	v := viewOutcome(out)
	f := formatter(cmd, opts.RootOptions)
	if out.OK() {
		return f.Success(v)
	}
	if err := f.Error(errorCode(out.Err), v.String(), v); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("%s %s", out.Action, out.State), out.Err)
}

func chargeInput(stayID string, quantity int, opts *ActionOptions) (action.ChargeInput, error) {
	payments, err := parsePayments(opts.Payments)
	if err != nil {
		return action.ChargeInput{}, err
	}
	return action.ChargeInput{StayID: stayID, Quantity: quantity, Payments: payments}, nil
}

// canonicalBrand maps a typed brand onto the catalog spelling. Unknown
// brands are kept as typed.
func canonicalBrand(c *catalog.Catalog, brand string) string {
	if brand == "" {
		return ""
	}
	name, ok := c.Canonical(brand)
	if !ok {
		if m := c.Lookup(brand, 1); len(m) > 0 {
			slog.Warn("unknown vehicle brand", "brand", brand, "closest", m[0].Name())
		}
	}
	return name
}
