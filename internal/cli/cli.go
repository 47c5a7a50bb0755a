// Package cli implementa o roundctl: operação manual de rodadas, saldos e
// ranking direto no banco, sem passar pela API.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/radieske/prediction-rounds/internal/app"
	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/internal/repo"
	"github.com/radieske/prediction-rounds/internal/settlement"
)

// Env é o que os comandos precisam do mundo lá fora.
type Env struct {
	Out  io.Writer
	Open func(ctx context.Context) (*app.Core, error)
}

// NewRootCmd monta a árvore de comandos.
func NewRootCmd(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "roundctl",
		Short:         "Operate prediction rounds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCmd(env),
		roundsCmd(env),
		usersCmd(env),
		leaderboardCmd(env),
	)
	return root
}

// withCore abre o núcleo, roda fn e fecha as conexões.
func withCore(env *Env, fn func(ctx context.Context, c *app.Core, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		c, err := env.Open(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, c, args)
	}
}

func migrateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withCore(env, func(_ context.Context, c *app.Core, _ []string) error {
			// OpenStore já migra ao abrir
			fmt.Fprintf(env.Out, "schema up to date (%s)\n", c.Store.Dialect())
			return nil
		}),
	}
}

func roundsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "Create, inspect and settle rounds",
	}

	var (
		mode     string
		price    string
		duration time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a new round",
		Args:  cobra.NoArgs,
		RunE: withCore(env, func(ctx context.Context, c *app.Core, _ []string) error {
			m, err := domain.ParseMode(mode)
			if err != nil {
				return err
			}
			start, err := priceArg(ctx, c, price)
			if err != nil {
				return err
			}
			if duration <= 0 {
				duration = c.Cfg.RoundDuration
			}
			r, err := c.Rounds.CreateRound(ctx, m, start, duration)
			if err != nil {
				return err
			}
			printRounds(env.Out, []domain.Round{*r})
			return nil
		}),
	}
	create.Flags().StringVar(&mode, "mode", string(domain.ModeUpDown), "UP_DOWN or LEGENDS")
	create.Flags().StringVar(&price, "price", "", "start price (default: current feed price)")
	create.Flags().DurationVar(&duration, "duration", 0, "round duration (default: ROUND_DURATION)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List rounds accepting predictions",
		Args:  cobra.NoArgs,
		RunE: withCore(env, func(ctx context.Context, c *app.Core, _ []string) error {
			rs, err := c.Rounds.ListActive(ctx)
			if err != nil {
				return err
			}
			printRounds(env.Out, rs)
			return nil
		}),
	}

	var (
		histMode      string
		limit, offset int
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "List resolved rounds, newest first",
		Args:  cobra.NoArgs,
		RunE: withCore(env, func(ctx context.Context, c *app.Core, _ []string) error {
			f := repo.HistoryFilter{Limit: limit, Offset: offset}
			if histMode != "" {
				m, err := domain.ParseMode(histMode)
				if err != nil {
					return err
				}
				f.Mode = m
			}
			rs, err := c.Rounds.ListHistory(ctx, f)
			if err != nil {
				return err
			}
			printRounds(env.Out, rs)
			return nil
		}),
	}
	history.Flags().StringVar(&histMode, "mode", "", "filter by mode")
	history.Flags().IntVar(&limit, "limit", 20, "page size")
	history.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	lock := &cobra.Command{
		Use:   "lock <round-id>",
		Short: "Stop accepting predictions for a round",
		Args:  cobra.ExactArgs(1),
		RunE: withCore(env, func(ctx context.Context, c *app.Core, args []string) error {
			r, err := c.Rounds.Lock(ctx, args[0])
			if err != nil {
				return err
			}
			printRounds(env.Out, []domain.Round{*r})
			return nil
		}),
	}

	var finalPrice string
	resolve := &cobra.Command{
		Use:   "resolve <round-id>",
		Short: "Settle a round at a final price",
		Args:  cobra.ExactArgs(1),
		RunE: withCore(env, func(ctx context.Context, c *app.Core, args []string) error {
			p, err := priceArg(ctx, c, finalPrice)
			if err != nil {
				return err
			}
			rep, err := c.Engine.Resolve(ctx, args[0], p)
			if err != nil {
				return err
			}
			printReport(env.Out, rep)
			return nil
		}),
	}
	resolve.Flags().StringVar(&finalPrice, "price", "", "final price (default: current feed price)")

	cancel := &cobra.Command{
		Use:   "cancel <round-id>",
		Short: "Cancel a round and refund every prediction",
		Args:  cobra.ExactArgs(1),
		RunE: withCore(env, func(ctx context.Context, c *app.Core, args []string) error {
			rep, err := c.Engine.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			printReport(env.Out, rep)
			return nil
		}),
	}

	cmd.AddCommand(create, list, history, lock, resolve, cancel)
	return cmd
}

func usersCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Balances and statistics",
	}

	deposit := &cobra.Command{
		Use:   "deposit <user-id> <amount-cents>",
		Short: "Credit a user's balance, creating the user if needed",
		Args:  cobra.ExactArgs(2),
		RunE: withCore(env, func(ctx context.Context, c *app.Core, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return domain.Validationf("amount %q is not an integer", args[1])
			}
			u, err := c.Ledger.Deposit(ctx, args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "%s balance=%s\n", u.ID, cents(u.BalanceCents))
			return nil
		}),
	}

	stats := &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show a user's statistics and rank",
		Args:  cobra.ExactArgs(1),
		RunE: withCore(env, func(ctx context.Context, c *app.Core, args []string) error {
			e, err := c.Stats.UserStats(ctx, args[0])
			if err != nil {
				return err
			}
			printLeaderboard(env.Out, []domain.LeaderboardEntry{*e})
			return nil
		}),
	}

	cmd.AddCommand(deposit, stats)
	return cmd
}

func leaderboardCmd(env *Env) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank users by net earnings",
		Args:  cobra.NoArgs,
		RunE: withCore(env, func(ctx context.Context, c *app.Core, _ []string) error {
			board, err := c.Stats.Leaderboard(ctx, limit, offset)
			if err != nil {
				return err
			}
			printLeaderboard(env.Out, board)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

// priceArg usa o preço informado ou, se vazio, o preço atual do feed.
func priceArg(ctx context.Context, c *app.Core, s string) (decimal.Decimal, error) {
	if s == "" {
		return c.Feed.CurrentPrice(ctx)
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.Validationf("price %q is not a number", s)
	}
	return p, nil
}

func printRounds(w io.Writer, rs []domain.Round) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Mode", "Status", "Start", "End price", "Ends at", "Pool")
	for _, r := range rs {
		end := "-"
		if r.EndPrice != nil {
			end = r.EndPrice.String()
		}
		table.Append(
			r.ID,
			string(r.Mode),
			string(r.Status),
			r.StartPrice.String(),
			end,
			r.EndTime.Format(time.RFC3339),
			cents(r.TotalPoolCents),
		)
	}
	table.Render()
}

func printReport(w io.Writer, rep *settlement.Report) {
	p := rep.Plan
	fmt.Fprintf(w, "round %s %s outcome=%s\n", rep.Round.ID, rep.Round.Status, outcomeOf(rep))
	table := tablewriter.NewWriter(w)
	table.Header("Winners", "Losers", "Refunds", "Winning pool", "Losing pool", "Paid")
	table.Append(
		strconv.Itoa(p.Winners),
		strconv.Itoa(p.Losers),
		strconv.Itoa(p.Refunds),
		cents(p.WinningCents),
		cents(p.LosingCents),
		cents(p.PayoutCents()),
	)
	table.Render()
}

func outcomeOf(rep *settlement.Report) string {
	if rep.Round.Status == domain.StatusCancelled {
		return "CANCELLED"
	}
	return rep.Plan.Outcome.String()
}

func printLeaderboard(w io.Writer, entries []domain.LeaderboardEntry) {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "User", "Predictions", "Correct", "Accuracy", "Earnings", "Up/Down W-L", "Legends W-L")
	for _, e := range entries {
		table.Append(
			strconv.Itoa(e.Rank),
			e.Stats.UserID,
			strconv.FormatInt(e.Stats.TotalPredictions, 10),
			strconv.FormatInt(e.Stats.CorrectPredictions, 10),
			fmt.Sprintf("%.1f%%", e.Stats.Accuracy()*100),
			cents(e.Stats.TotalEarningsCents),
			fmt.Sprintf("%d-%d", e.Stats.UpDownWins, e.Stats.UpDownLosses),
			fmt.Sprintf("%d-%d", e.Stats.LegendsWins, e.Stats.LegendsLosses),
		)
	}
	table.Render()
}

// cents formata centavos como unidades com duas casas.
func cents(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}
