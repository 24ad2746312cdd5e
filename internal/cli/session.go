package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexAdvisor/internal/dataflows"
	"github.com/dyike/CortexAdvisor/models"
)

func newSessionCmd(e *env) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage a session's profile and portfolio",
	}
	sessionCmd.AddCommand(newProfileCmd(e))
	sessionCmd.AddCommand(newPortfolioCmd(e))
	return sessionCmd
}

func newProfileCmd(e *env) *cobra.Command {
	var session, risk, goal, value string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the investor profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.GetOrCreateSession(cmd.Context(), session)
			if err != nil {
				return err
			}
			changed := false
			if risk != "" {
				sess.RiskProfile = risk
				changed = true
			}
			if goal != "" {
				sess.InvestmentGoal = goal
				changed = true
			}
			if value != "" {
				v, err := decimal.NewFromString(value)
				if err != nil {
					return fmt.Errorf("invalid --value %q: %w", value, err)
				}
				sess.PortfolioValue = v
				changed = true
			}
			if changed {
				if err := store.UpsertSession(cmd.Context(), *sess); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", keyStyle.Render("session:"), sess.ID)
			fmt.Fprintf(out, "%s %s\n", keyStyle.Render("risk profile:"), sess.RiskProfile)
			fmt.Fprintf(out, "%s %s\n", keyStyle.Render("goal:"), sess.InvestmentGoal)
			fmt.Fprintf(out, "%s %s\n", keyStyle.Render("portfolio value:"), sess.PortfolioValue.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSession, "Session ID")
	cmd.Flags().StringVar(&risk, "risk", "", "Risk profile, e.g. conservative, moderate, aggressive")
	cmd.Flags().StringVar(&goal, "goal", "", "Investment goal")
	cmd.Flags().StringVar(&value, "value", "", "Declared portfolio value")
	return cmd
}

func newPortfolioCmd(e *env) *cobra.Command {
	var (
		session  string
		holdings []string
		cash     string
	)
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Record a portfolio snapshot",
		Long: `Record the current holdings of a session. Each --holding is SYMBOL=SHARES
or SYMBOL=SHARES@AVG_COST.
Example: cortexadvisor session portfolio --holding AAPL=10@150 --holding MSFT=4 --cash 2500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := buildSnapshot(session, holdings, cash)
			if err != nil {
				return err
			}
			store, _, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetOrCreateSession(cmd.Context(), session); err != nil {
				return err
			}
			if err := store.SavePortfolio(cmd.Context(), snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d holdings, total %s\n",
				completedStyle.Render("saved"), len(snap.Holdings), snap.TotalValue.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSession, "Session ID")
	cmd.Flags().StringArrayVar(&holdings, "holding", nil, "Holding as SYMBOL=SHARES[@AVG_COST], repeatable")
	cmd.Flags().StringVar(&cash, "cash", "0", "Cash balance")
	return cmd
}

// buildSnapshot parses holding flags. Total value is cash plus cost basis.
func buildSnapshot(session string, raws []string, cash string) (models.PortfolioSnapshot, error) {
	snap := models.PortfolioSnapshot{SessionID: session}
	c, err := decimal.NewFromString(strings.TrimSpace(cash))
	if err != nil {
		return snap, fmt.Errorf("invalid --cash %q: %w", cash, err)
	}
	snap.Cash = c
	total := c
	for _, raw := range raws {
		h, err := parseHolding(raw)
		if err != nil {
			return snap, err
		}
		snap.Holdings = append(snap.Holdings, h)
		total = total.Add(h.Shares.Mul(h.AvgCost))
	}
	snap.TotalValue = total
	return snap, nil
}

func parseHolding(raw string) (models.Holding, error) {
	sym, rest, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || strings.TrimSpace(sym) == "" {
		return models.Holding{}, fmt.Errorf("invalid holding %q, want SYMBOL=SHARES[@AVG_COST]", raw)
	}
	sharesStr, costStr, hasCost := strings.Cut(rest, "@")
	shares, err := decimal.NewFromString(strings.TrimSpace(sharesStr))
	if err != nil {
		return models.Holding{}, fmt.Errorf("invalid shares in %q: %w", raw, err)
	}
	if shares.IsNegative() {
		return models.Holding{}, fmt.Errorf("negative shares in %q", raw)
	}
	h := models.Holding{Symbol: dataflows.NormalizeSymbol(sym), Shares: shares}
	if hasCost {
		cost, err := decimal.NewFromString(strings.TrimSpace(costStr))
		if err != nil {
			return models.Holding{}, fmt.Errorf("invalid cost in %q: %w", raw, err)
		}
		h.AvgCost = cost
	}
	return h, nil
}
