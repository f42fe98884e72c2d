package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aminenidae/stint/pkg/client"
	"github.com/aminenidae/stint/pkg/types"
)

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

func formatSeconds(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

var enrollCmd = &cobra.Command{
	Use:   "enroll NAME",
	Short: "Enroll an entity for usage accounting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, err := apiClient(cmd).Enroll(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("✓ Enrolled: %s (ID: %s, state: %s)\n", entity.Name, entity.ID, entity.State)
		return nil
	},
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll NAME",
	Short: "Stop accounting for an entity",
	Long: `Archive an entity. Its finalized day totals stay readable; the open
day stops accumulating and the platform plan is withdrawn.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).Unenroll(args[0]); err != nil {
			return err
		}

		fmt.Printf("✓ Unenrolled: %s\n", args[0])
		return nil
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List enrolled entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		entities, err := apiClient(cmd).Entities()
		if err != nil {
			return err
		}

		if len(entities) == 0 {
			fmt.Println("No entities enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tGEN\tTODAY\tENROLLED")
		for _, entity := range entities {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				entity.Name, entity.State, entity.Generation,
				formatSeconds(entity.TotalSeconds),
				entity.EnrolledAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var totalsCmd = &cobra.Command{
	Use:   "totals [NAME]",
	Short: "Show usage totals",
	Long: `Without arguments, show every entity's running total for the open
accounting day. With a name, show that entity's open day plus its
finalized day history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := apiClient(cmd)

		if len(args) == 0 {
			entities, err := cli.Entities()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTODAY")
			for _, entity := range entities {
				fmt.Fprintf(w, "%s\t%s\n", entity.Name, formatSeconds(entity.TotalSeconds))
			}
			return w.Flush()
		}

		days, _ := cmd.Flags().GetInt("days")
		history, err := cli.History(args[0], days)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DAY\tUSAGE")
		for _, day := range history.Days {
			fmt.Fprintf(w, "%s\t%s\n", day.Day, formatSeconds(day.Seconds))
		}
		if history.Open != nil {
			fmt.Fprintf(w, "%s\t%s (open)\n", history.Open.Day, formatSeconds(history.Open.Seconds))
		}
		return w.Flush()
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List suspected accounting gaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		gaps, err := apiClient(cmd).Gaps()
		if err != nil {
			return err
		}

		if len(gaps) == 0 {
			fmt.Println("No gaps detected.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tCAUSE\tFROM\tTO")
		for _, gap := range gaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				gap.Entity, gap.SuspectedCause,
				gap.Start.Local().Format("2006-01-02 15:04:05"),
				gap.End.Local().Format("15:04:05"))
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and diagnostic counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli := apiClient(cmd)

		status, err := cli.Status()
		if err != nil {
			return err
		}

		if status.Healthy {
			fmt.Println("Pipeline: healthy")
		} else {
			fmt.Printf("Pipeline: degraded (%s)\n", status.Reason)
		}
		if status.LivenessAge != "" {
			fmt.Printf("Observer liveness: %s ago\n", status.LivenessAge)
		}

		if len(status.Entities) > 0 {
			fmt.Println("\nEntities:")
			for _, state := range []types.EntityState{
				types.EntityStateUnplanned, types.EntityStatePlanned,
				types.EntityStateActive, types.EntityStateDegraded,
				types.EntityStateArchived,
			} {
				if n := status.Entities[string(state)]; n > 0 {
					fmt.Printf("  %-10s %d\n", state, n)
				}
			}
		}

		counters, err := cli.Counters()
		if err != nil {
			return err
		}

		fmt.Println("\nCounters:")
		for _, class := range types.CounterClasses {
			fmt.Printf("  %-22s %d\n", class, counters[class])
		}
		return nil
	},
}

func init() {
	totalsCmd.Flags().Int("days", 7, "Days of history to show")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unenrollCmd)
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(totalsCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(statusCmd)
}
