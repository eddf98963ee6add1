package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/store"
)

// NotifyOptions holds flags for the notify command.
type NotifyOptions struct {
	*RootOptions
	To      []string
	Role    string
	Type    string
	StayID  string
	Room    string
	Title   string
	Message string
}

// NewNotifyCommand creates the notify command.
func NewNotifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NotifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a notification to staff, as reception would",
		Long: `Insert notification rows for the given employees (or every employee
with a role) and push them to their registered devices.

A VEHICLE_REQUEST or CHECKOUT_REQUEST with --stay also marks the stay, so
the valets' room lists show it as urgent.

Examples:
  valetsync notify --to valet-x --type VEHICLE_REQUEST --stay stay-201
  valetsync notify --role VALET --type CHECKOUT_REQUEST --stay stay-102 --title "Checkout 102"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.To, "to", nil, "employee ids to notify")
	cmd.Flags().StringVar(&opts.Role, "role", "", "notify every employee with this role (VALET|RECEPTION|MANAGER)")
	cmd.Flags().StringVar(&opts.Type, "type", string(domain.BizGeneral), "business type, e.g. VEHICLE_REQUEST")
	cmd.Flags().StringVar(&opts.StayID, "stay", "", "stay the notification is about")
	cmd.Flags().StringVar(&opts.Room, "room", "", "room number (looked up from --stay when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "notification title (defaults to the type)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "notification body")
	return cmd
}

func runNotify(opts *NotifyOptions, cmd *cobra.Command) error {
	if len(opts.To) == 0 && opts.Role == "" {
		return NewExitError(ExitCommandError, "one of --to or --role is required")
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	typ := domain.BusinessType(strings.ToUpper(opts.Type))
	payload := domain.NotificationPayload{Type: typ, StayID: opts.StayID, RoomNumber: opts.Room}
	if opts.StayID != "" {
		stay, err := a.store.GetStay(ctx, opts.StayID)
		if err != nil {
			return WrapExitError(ExitCommandError, "unknown stay", err)
		}
		if payload.RoomNumber == "" {
			payload.RoomNumber = stay.RoomNumber
		}
		payload.SalesOrderID = stay.SalesOrderID
		if err := markRequest(cmd, a.store, typ, stay.ID); err != nil {
			return err
		}
	}

	recipients := opts.To
	if opts.Role != "" {
		staff, err := a.store.ListEmployees(ctx, domain.Role(strings.ToUpper(opts.Role)))
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list employees", err)
		}
		for _, e := range staff {
			recipients = append(recipients, e.ID)
		}
	}
	if len(recipients) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no employees with role %s", opts.Role))
	}

	title := opts.Title
	if title == "" {
		title = string(typ)
	}
	sent, err := a.producer().Notify(ctx, recipients, title, opts.Message, payload)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to notify", err)
	}

	ids := make([]string, 0, len(sent))
	for _, n := range sent {
		ids = append(ids, n.ID)
	}
	if opts.Format == "json" {
		return formatter(cmd, opts.RootOptions).Success(map[string]any{"notifications": ids, "recipients": recipients})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Notified %s (%d notification(s))\n", strings.Join(recipients, ", "), len(ids))
	return nil
}

// markRequest stamps the stay when the notification is a guest request.
func markRequest(cmd *cobra.Command, st *store.Store, typ domain.BusinessType, stayID string) error {
	ctx := commandContext(cmd)
	now := time.Now().UTC()
	var (
		n   int64
		err error
	)
	switch typ {
	case domain.BizVehicleRequest:
		n, err = st.RequestVehicle(ctx, stayID, now)
	case domain.BizCheckoutRequest:
		n, err = st.RequestCheckout(ctx, stayID, now)
	default:
		return nil
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to mark request", err)
	}
	if n == 0 {
		slog.Debug("stay not active, request not marked", "stay_id", stayID)
	}
	return nil
}
