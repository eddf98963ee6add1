package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/store"
)

// ShiftReportOptions holds flags for the shift-report command.
type ShiftReportOptions struct {
	*RootOptions
	Shift    string // shift session id
	Employee string // use the employee's open shift instead
	Out      string // xlsx path; empty prints a summary only
}

// ShiftSummary is the printable part of a shift report.
type ShiftSummary struct {
	ShiftID    string          `json:"shift_id"`
	EmployeeID string          `json:"employee_id"`
	Payments   int             `json:"payments"`
	Cash       decimal.Decimal `json:"cash"`
	Card       decimal.Decimal `json:"card"`
	Total      decimal.Decimal `json:"total"`
	File       string          `json:"file,omitempty"`
}

// NewShiftReportCommand creates the shift-report command.
func NewShiftReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShiftReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shift-report",
		Short: "Summarize and export the payments collected in a shift",
		Long: `Summarize the payments collected during a shift session, split by
method, and optionally export them to an xlsx workbook.

Examples:
  valetsync shift-report --shift 0192f3a4-...
  valetsync shift-report --employee valet-x --out shift.xlsx`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShiftReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Shift, "shift", "", "shift session id")
	cmd.Flags().StringVar(&opts.Employee, "employee", "", "report the employee's open shift")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write an xlsx workbook to this path")
	cmd.MarkFlagsMutuallyExclusive("shift", "employee")
	cmd.MarkFlagsOneRequired("shift", "employee")

	cmd.AddCommand(newShiftStartCommand(rootOpts), newShiftEndCommand(rootOpts))
	return cmd
}

func runShiftReport(opts *ShiftReportOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, _, err := openStore(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	var shift domain.ShiftSession
	if opts.Employee != "" {
		shift, err = st.ActiveShift(ctx, opts.Employee)
	} else {
		shift, err = st.GetShift(ctx, opts.Shift)
	}
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "shift not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load shift", err)
	}

	payments, err := st.PaymentsByShift(ctx, shift.ID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list payments", err)
	}
	summary := summarizeShift(shift, payments)

	if opts.Out != "" {
		data, err := exportShiftXLSX(shift, payments)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to build workbook", err)
		}
		if err := writeFile(opts.Out, data); err != nil {
			return WrapExitError(ExitCommandError, "failed to write workbook", err)
		}
		summary.File = opts.Out
	}

	if opts.Format == "json" {
		return formatter(cmd, opts.RootOptions).Success(summary)
	}
	printShiftSummary(cmd.OutOrStdout(), summary)
	return nil
}

func summarizeShift(shift domain.ShiftSession, payments []domain.Payment) ShiftSummary {
	s := ShiftSummary{
		ShiftID:    shift.ID,
		EmployeeID: shift.EmployeeID,
		Payments:   len(payments),
		Cash:       decimal.Zero,
		Card:       decimal.Zero,
		Total:      decimal.Zero,
	}
	for _, p := range payments {
		switch p.Method {
		case domain.MethodCash:
			s.Cash = s.Cash.Add(p.Amount)
		case domain.MethodCard:
			s.Card = s.Card.Add(p.Amount)
		}
		s.Total = s.Total.Add(p.Amount)
	}
	return s
}

func printShiftSummary(w io.Writer, s ShiftSummary) {
	fmt.Fprintf(w, "Shift %s (%s): %d payment(s)\n", s.ShiftID, s.EmployeeID, s.Payments)
	fmt.Fprintf(w, "  cash  %s\n", s.Cash.StringFixed(2))
	fmt.Fprintf(w, "  card  %s\n", s.Card.StringFixed(2))
	fmt.Fprintf(w, "  total %s\n", s.Total.StringFixed(2))
	if s.File != "" {
		fmt.Fprintf(w, "Written to %s\n", s.File)
	}
}

// exportShiftXLSX renders the shift's payments as a one-sheet workbook
// with a totals row.
func exportShiftXLSX(shift domain.ShiftSession, payments []domain.Payment) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Payments"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	header := []string{"ID", "Order", "Concept", "Method", "Terminal", "Card", "Reference", "Amount", "Status", "Collected By", "Collected At"}
	for c, v := range header {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellValue(sheet, cell, v)
	}

	total := decimal.Zero
	for r, p := range payments {
		collectedAt := ""
		if p.CollectedAt != nil {
			collectedAt = p.CollectedAt.UTC().Format(time.RFC3339)
		}
		card := p.CardBrand
		if p.CardLast4 != "" {
			card += " " + p.CardLast4
		}
		values := []any{
			p.ID,
			p.OrderID,
			string(p.Concept),
			string(p.Method),
			p.Terminal,
			card,
			p.Reference,
			p.Amount.InexactFloat64(),
			string(p.Status),
			p.CollectedBy,
			collectedAt,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
		total = total.Add(p.Amount)
	}

	totalRow := len(payments) + 2
	_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", totalRow), "Total")
	_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", totalRow), total.InexactFloat64())

	_ = f.SetColWidth(sheet, "A", "B", 38)
	_ = f.SetColWidth(sheet, "C", "G", 14)
	_ = f.SetColWidth(sheet, "H", "H", 12)
	_ = f.SetColWidth(sheet, "I", "K", 24)

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetCellStyle(sheet, "A1", "K1", style)
	}
	_ = f.SetDocProps(&excelize.DocProperties{Title: "Shift " + shift.ID, Creator: "valetsync"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func newShiftStartCommand(rootOpts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Open a shift session for an employee",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.StartShift(commandContext(cmd), domain.UUIDv7Generator{}.NewID(), as, time.Now().UTC())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to start shift", err)
			}
			return formatter(cmd, rootOpts).Success(map[string]string{"shift_id": sess.ID, "employee_id": sess.EmployeeID})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "employee id (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func newShiftEndCommand(rootOpts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:           "end",
		Short:         "Close an employee's open shift session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			st, _, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.ActiveShift(ctx, as)
			if err != nil {
				return WrapExitError(ExitCommandError, "no open shift", err)
			}
			if _, err := st.EndShift(ctx, sess.ID, time.Now().UTC()); err != nil {
				return WrapExitError(ExitFailure, "failed to end shift", err)
			}
			return formatter(cmd, rootOpts).Success(map[string]string{"shift_id": sess.ID, "employee_id": sess.EmployeeID})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "employee id (required)")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
