package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/view"
)

// RoomRow is one line of the rooms listing.
type RoomRow struct {
	Room       string `json:"room"`
	StayID     string `json:"stay_id,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Plate      string `json:"plate,omitempty"`
	EntryValet string `json:"entry_valet,omitempty"`
	Checkout   string `json:"checkout_valet,omitempty"`
	Remaining  string `json:"remaining,omitempty"`
	Urgent     bool   `json:"urgent,omitempty"`
}

// RoomsOptions holds flags for the rooms command.
type RoomsOptions struct {
	*RootOptions
	As string // show the dashboard counters of this valet
}

// NewRoomsCommand creates the rooms command.
func NewRoomsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RoomsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms with their active stays",
		Long: `List every room with the phase of its active stay.

Example:
  valetsync rooms --db ./valet.db
  valetsync rooms --db ./valet.db --as valet-x --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRooms(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "valet whose dashboard counters are shown")
	return cmd
}

func runRooms(opts *RoomsOptions, cmd *cobra.Command) error {
	st, _, err := openStore(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	rooms, err := st.ListActiveRooms(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list rooms", err)
	}
	rows := roomRows(rooms)

	if opts.Format == "json" {
		data := map[string]any{"rooms": rows}
		if opts.As != "" {
			data["dashboard"] = view.Summarize(rooms, opts.As)
		}
		return formatter(cmd, opts.RootOptions).Success(data)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tPHASE\tPLATE\tENTRY\tCHECKOUT\tREMAINING")
	for _, r := range rows {
		phase := r.Phase
		if r.Urgent {
			phase += " (!)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Room, dash(phase), dash(r.Plate), dash(r.EntryValet), dash(r.Checkout), dash(r.Remaining))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if opts.As != "" {
		d := view.Summarize(rooms, opts.As)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d mine, %d unassigned, %d urgent, %d awaiting review, %s outstanding\n",
			opts.As, d.Mine, d.Unassigned, d.Urgent, d.AwaitingReview, d.Outstanding.StringFixed(2))
	}
	return nil
}

func roomRows(rooms []domain.Room) []RoomRow {
	rows := make([]RoomRow, 0, len(rooms))
	for _, r := range rooms {
		row := RoomRow{Room: r.Number}
		if s := r.Stay; s != nil {
			row.StayID = s.ID
			row.Phase = string(domain.PhaseOf(*s))
			row.Plate = s.VehiclePlate
			row.EntryValet = s.EntryValetID
			row.Checkout = s.CheckoutValetID
			row.Urgent = s.IsUrgent()
			if s.Order != nil {
				row.Remaining = s.Order.RemainingAmount.StringFixed(2)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
