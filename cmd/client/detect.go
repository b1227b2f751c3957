package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agridetect/internal/client"
	"agridetect/internal/models"
	"agridetect/internal/queue"
	"agridetect/internal/utils"
)

func (a *app) detectCmd() *cobra.Command {
	var (
		lat, lng    float64
		queueOnFail bool
		offline     bool
		narrate     bool
		lang        string
	)
	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Diagnose a leaf photo, queueing it when the server is unreachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var latp, lngp *float64
			if cmd.Flags().Changed("lat") {
				latp = &lat
			}
			if cmd.Flags().Changed("lng") {
				lngp = &lng
			}
			if err := models.ValidateCoordinates(latp, lngp); err != nil {
				return err
			}
			// The ref goes with the live upload too: if the server stored it but the
			// response was lost, the queued copy replays onto the same detection.
			capture := queue.Capture{
				ID:        models.NewPendingID(),
				Image:     data,
				Filename:  filepath.Base(args[0]),
				Latitude:  latp,
				Longitude: lngp,
				Timestamp: time.Now().UTC(),
				DeviceID:  utils.DeviceID(),
			}
			if offline {
				return a.enqueue(cmd, capture, "queued for the next sync")
			}

			c, _, err := a.newClient(true)
			if err != nil {
				return err
			}
			det, _, err := c.Detect(ctx, client.Submission{
				Image:      capture.Image,
				Filename:   capture.Filename,
				Latitude:   latp,
				Longitude:  lngp,
				ClientRef:  capture.ID,
				CapturedAt: capture.Timestamp,
				Source:     models.SourceLive,
			})
			if client.IsOffline(err) && queueOnFail {
				a.logger.Debug("server unreachable, queueing")
				return a.enqueue(cmd, capture, "server unreachable; queued for the next sync")
			}
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(det)
			}
			printDetection(a, det)
			if narrate {
				n, err := c.Narration(ctx, det.ID, lang)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "\n%s\n", n.Text)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&lat, "lat", 0, "latitude of the capture")
	f.Float64Var(&lng, "lng", 0, "longitude of the capture")
	f.BoolVar(&queueOnFail, "queue-on-fail", true, "queue the capture when the server is unreachable")
	f.BoolVar(&offline, "offline", false, "queue without contacting the server")
	f.BoolVar(&narrate, "narrate", false, "print the spoken summary")
	f.StringVar(&lang, "lang", "en", "narration language (en|es)")
	return cmd
}

func (a *app) enqueue(cmd *cobra.Command, c queue.Capture, msg string) error {
	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer q.Close()
	p, err := queue.Enqueue(commandContext(cmd), q, c, a.cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.printJSON(p)
	}
	fmt.Fprintf(a.out, "%s: %s\n", p.ID, msg)
	return nil
}

func (a *app) historyCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past detections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.newClient(true)
			if err != nil {
				return err
			}
			h, err := c.History(commandContext(cmd), limit, offset)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(h)
			}
			if len(h.Detections) == 0 {
				fmt.Fprintln(a.out, "No detections yet")
				return nil
			}
			for _, d := range h.Detections {
				fmt.Fprintf(a.out, "%s  %s  %-30s %-6s %3.0f%%  %s\n",
					d.CapturedAt.Local().Format("2006-01-02 15:04"), d.ID,
					d.Diagnosis.DiseaseName, d.Diagnosis.Severity, d.Diagnosis.Confidence*100, location(d))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func (a *app) narrateCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "narrate <detection-id>",
		Short: "Print the spoken summary of a detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.newClient(true)
			if err != nil {
				return err
			}
			n, err := c.Narration(commandContext(cmd), args[0], lang)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(n)
			}
			fmt.Fprintln(a.out, n.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "language (en|es)")
	return cmd
}

func printDetection(a *app, d *models.Detection) {
	diag := d.Diagnosis
	fmt.Fprintf(a.out, "Detection %s\n", d.ID)
	fmt.Fprintf(a.out, "  Disease:    %s\n", diag.DiseaseName)
	fmt.Fprintf(a.out, "  Severity:   %s\n", diag.Severity)
	fmt.Fprintf(a.out, "  Confidence: %.0f%%\n", diag.Confidence*100)
	if diag.Description != "" {
		fmt.Fprintf(a.out, "  %s\n", diag.Description)
	}
	if len(diag.Treatment) > 0 {
		fmt.Fprintln(a.out, "  Treatment:")
		for i, step := range diag.Treatment {
			fmt.Fprintf(a.out, "    %d. %s\n", i+1, step)
		}
	}
	if d.Geotagged() {
		fmt.Fprintf(a.out, "  Location:   %s\n", location(d))
	}
}

func location(d *models.Detection) string {
	if !d.Geotagged() {
		return "-"
	}
	return strings.TrimSpace(fmt.Sprintf("%.5f,%.5f", *d.Latitude, *d.Longitude))
}
