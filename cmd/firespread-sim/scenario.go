package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firespread-sim/internal/scenario"
	"firespread-sim/internal/transport"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Inspect and exchange scenarios",
}

var scenarioPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in scenario presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		presets := scenario.BuiltIn()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVEGETATION\tWIND\tHUMIDITY\tPOINTS")
		for _, name := range scenario.Names() {
			f := presets[name]
			fmt.Fprintf(tw, "%s\t%s\t%.0f km/h @ %.0f°\t%.0f%%\t%d\n",
				name, f.Parameters.VegetationType, f.Parameters.WindSpeed, f.Parameters.WindDirection,
				f.Parameters.Humidity, len(f.IgnitionPoints))
		}
		return tw.Flush()
	},
}

var scenarioShowCmd = &cobra.Command{
	Use:   "show <preset|file>",
	Short: "Print a preset or scenario file as validated YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := scenario.Resolve(args[0])
		if err != nil {
			return err
		}
		b, err := f.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios stored on the simulation service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := scenarioClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		list, err := client.ListScenarios(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVEGETATION\tPOINTS\tUPDATED")
		for _, sc := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
				sc.ID, sc.Name, sc.Parameters.VegetationType, len(sc.IgnitionPoints), sc.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var scenarioPushCmd = &cobra.Command{
	Use:   "push <preset|file>",
	Short: "Store a preset or scenario file on the simulation service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := scenario.Resolve(args[0])
		if err != nil {
			return err
		}
		sc, err := f.Scenario(time.Now())
		if err != nil {
			return err
		}
		client, err := scenarioClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		saved, err := client.CreateScenario(ctx, sc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
		return nil
	},
}

var scenarioPullCmd = &cobra.Command{
	Use:   "pull <id> <file>",
	Short: "Download a stored scenario into a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := scenarioClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		sc, err := client.GetScenario(ctx, args[0])
		if err != nil {
			return err
		}
		return scenario.FromScenario(sc).Save(args[1])
	},
}

func scenarioClient() (*transport.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Timeout: cfg.API.Timeout,
		Logger:  log,
	}), nil
}

func init() {
	scenarioCmd.AddCommand(scenarioPresetsCmd, scenarioShowCmd, scenarioListCmd, scenarioPushCmd, scenarioPullCmd)
}
