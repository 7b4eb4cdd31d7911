package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/faqbot/console/internal/analytics"
	"github.com/faqbot/console/internal/console"
	"github.com/faqbot/console/internal/models"
)

func (a *app) analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Usage and accuracy reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		a.analyticsOverviewCmd(),
		a.analyticsBotCmd(),
		a.analyticsTrendsCmd(),
		a.analyticsChannelsCmd(),
		a.analyticsTopCmd(),
		a.analyticsPerformanceCmd(),
	)
	return cmd
}

func (a *app) analyticsOverviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Tenant-wide totals",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			ov, err := con.Analytics.Overview(cmd.Context())
			if err != nil {
				if ov == nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), warningColor.Sprintf("Showing last known overview: %v", err))
			}
			return a.emit(cmd.OutOrStdout(), ov, func(w io.Writer) {
				header(w, "Overview")
				fmt.Fprintf(w, "Bots:           %d\n", ov.TotalBots)
				fmt.Fprintf(w, "Queries:        %d\n", ov.TotalQueries)
				fmt.Fprintf(w, "Active users:   %d\n", ov.ActiveUsers)
				fmt.Fprintf(w, "Accuracy:       %s\n", percent(models.ClampUnit(ov.AccuracyAvg)))
				fmt.Fprintf(w, "Response time:  %.2fs\n", ov.ResponseTimeAvg)
			})
		}),
	}
}

func (a *app) analyticsBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot <botID>",
		Short: "Per-bot usage",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			id, err := a.knownBot(cmd, con, args[0])
			if err != nil {
				return err
			}
			ba, err := con.Analytics.BotAnalytics(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), ba, func(w io.Writer) {
				header(w, fmt.Sprintf("Bot %d", ba.BotID))
				fmt.Fprintf(w, "Queries:   %d total, %d today, %d this week, %d this month\n",
					ba.TotalQueries, ba.DailyQueries, ba.WeeklyQueries, ba.MonthlyQueries)
				fmt.Fprintf(w, "Accuracy:  %s\n", optionalPercent(ba.AccuracyScore))
				fmt.Fprintf(w, "Response:  avg %.2fs, min %.2fs, max %.2fs\n",
					ba.ResponseTimes.Average, ba.ResponseTimes.Min, ba.ResponseTimes.Max)
				printTopQuestions(w, ba.TopQuestions)
			})
		}),
	}
}

func (a *app) analyticsTrendsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Daily query volume and accuracy",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			trends, err := con.Analytics.QueryTrends(cmd.Context(), days)
			if err != nil {
				return err
			}
			summary, err := analytics.SummarizeTrends(trends)
			if err != nil {
				return err
			}
			out := struct {
				Trends  []models.QueryTrend `json:"trends"`
				Summary models.TrendSummary `json:"summary"`
			}{trends, summary}
			return a.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				tw := table(w, "DATE", "QUERIES", "ACCURACY")
				for _, t := range trends {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Date, t.Queries, percent(t.Accuracy))
				}
				tw.Flush()
				fmt.Fprintf(w, "\n%d days, %d queries; daily mean %.1f, median %.1f, p95 %.1f; accuracy %s\n",
					summary.Days, summary.TotalQueries, summary.MeanDaily, summary.MedianDaily, summary.P95Daily,
					percent(summary.MeanAccuracy))
			})
		}),
	}
	cmd.Flags().IntVar(&days, "days", 0, "Window in days (default from config)")
	return cmd
}

func (a *app) analyticsChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Query share per channel",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			usage, err := con.Analytics.ChannelStats(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), usage, func(w io.Writer) {
				tw := table(w, "CHANNEL", "QUERIES", "SHARE")
				for _, u := range usage {
					fmt.Fprintf(tw, "%s\t%d\t%.1f%%\n", u.Channel, u.Queries, u.Percentage)
				}
				tw.Flush()
			})
		}),
	}
}

func (a *app) analyticsTopCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Most asked questions",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			top, err := con.Analytics.TopQuestions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), top, func(w io.Writer) {
				printTopQuestions(w, top)
			})
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of questions (default from config)")
	return cmd
}

func (a *app) analyticsPerformanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Response times, accuracy by language, uptime and satisfaction",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string, con *console.Console) error {
			p, err := con.Analytics.Performance(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), p, func(w io.Writer) {
				printMetricMap(w, "Response times", p.ResponseTimes, func(v float64) string { return fmt.Sprintf("%.2fs", v) })
				printMetricMap(w, "Accuracy by language", p.AccuracyByLanguage, percent)
				printMetricMap(w, "Uptime", p.Uptime, func(v float64) string { return fmt.Sprintf("%.2f%%", v) })
				printMetricMap(w, "User satisfaction", p.UserSatisfaction, func(v float64) string { return fmt.Sprintf("%.2f", v) })
			})
		}),
	}
}

func printTopQuestions(w io.Writer, top []models.TopQuestion) {
	if len(top) == 0 {
		fmt.Fprintln(w, "No questions asked yet")
		return
	}
	tw := table(w, "#", "QUESTION", "COUNT", "ACCURACY")
	for i, q := range top {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, clip(q.Question, 60), q.Count, optionalPercent(q.Accuracy))
	}
	tw.Flush()
}

func printMetricMap(w io.Writer, title string, m map[string]float64, format func(float64) string) {
	if len(m) == 0 {
		return
	}
	header(w, title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %s\n", k, format(m[k]))
	}
}
