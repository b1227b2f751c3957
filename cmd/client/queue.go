package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agridetect/internal/queue"
)

func (a *app) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect captures waiting for sync",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending captures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			items, err := q.List(commandContext(cmd))
			if err != nil {
				return err
			}
			if a.jsonOut {
				type row struct {
					ID        string   `json:"id"`
					Filename  string   `json:"filename,omitempty"`
					Timestamp string   `json:"timestamp"`
					Latitude  *float64 `json:"latitude,omitempty"`
					Longitude *float64 `json:"longitude,omitempty"`
					Bytes     int      `json:"bytes"`
					Attempts  int      `json:"attempts"`
					LastError string   `json:"last_error,omitempty"`
				}
				rows := make([]row, 0, len(items))
				for _, p := range items {
					rows = append(rows, row{p.ID, p.Filename, p.Timestamp.Format(time.RFC3339),
						p.Latitude, p.Longitude, len(p.Image), p.Attempts, p.LastError})
				}
				return a.printJSON(rows)
			}
			if len(items) == 0 {
				fmt.Fprintln(a.out, "Queue is empty")
				return nil
			}
			for _, p := range items {
				fmt.Fprintf(a.out, "%s  %s  %-24s %7d bytes  attempts=%d",
					p.Timestamp.Local().Format("2006-01-02 15:04"), p.ID, p.Filename, len(p.Image), p.Attempts)
				if p.LastError != "" {
					fmt.Fprintf(a.out, "  last_error=%q", p.LastError)
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Clear(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Queue cleared")
			return nil
		},
	})
	return cmd
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload queued captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			c, _, err := a.newClient(true)
			if err != nil {
				return err
			}
			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			before, err := q.Len(ctx)
			if err != nil {
				return err
			}
			if before == 0 {
				fmt.Fprintln(a.out, "Nothing to sync")
				return nil
			}
			rep, err := queue.NewSyncer(q, a.logger.Named("sync")).Drain(ctx, queue.ClientSubmitter{Client: c})
			if rep != nil {
				if a.jsonOut {
					if perr := a.printJSON(rep); perr != nil {
						return perr
					}
				} else {
					fmt.Fprintf(a.out, "Synced %d, rejected %d, failed %d, remaining %d\n",
						rep.Synced, rep.Rejected, rep.Failed, rep.Remaining(before))
					for _, e := range rep.Errors {
						fmt.Fprintf(a.out, "  %s: %s\n", e.ID, e.Error)
					}
					if rep.Stopped && err == nil {
						fmt.Fprintln(a.out, "Server unreachable; remaining captures stay queued")
					}
				}
			}
			return err
		},
	}
}
