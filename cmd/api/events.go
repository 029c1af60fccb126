package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spec-kit/property-service/internal/realtime"
)

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Follow the real-time event stream"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events and the query keys they invalidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger := bootstrap()
			defer logger.Sync() //nolint:errcheck

			url := strings.TrimRight(viper.GetString("url"), "/") + "/events"
			client := realtime.NewClient(url, logger, realtime.WithBearerToken(viper.GetString("token")))
			invalidator := realtime.NewInvalidator(realtime.NewKeyCache())

			err := client.Run(cmd.Context(), func(ctx context.Context, frame realtime.Frame) error {
				if err := invalidator.HandleFrame(ctx, frame); err != nil {
					return err
				}
				if viper.GetBool("json") {
					_, err := fmt.Fprintln(os.Stdout, frame.Data)
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{frame.ID, frame.Event, frame.Data})
				tw.Render()
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("url", "http://127.0.0.1:8080", "service base URL")
	cmd.Flags().String("token", "", "bearer token (see the token command)")
	_ = viper.BindPFlag("url", cmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	return cmd
}
