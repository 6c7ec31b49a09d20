package main

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"

	"calcore/internal/pipeline"
)

type occurrenceLine struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Override    bool      `json:"override,omitempty"`
	Summary     string    `json:"summary"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func newExpandCmd(a *app) *cobra.Command {
	var (
		from         string
		start        string
		end          string
		tzName       string
		maxYears     int
		maxInstances int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "expand [input]",
		Short: "List the occurrences of every event in a calendar",
		Long: `Expand materializes RRULE, RDATE, EXRULE and EXDATE sets, resolves
overrides and prints one line per occurrence. An override whose slot is also
excluded is dropped and reported on stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if maxYears > 0 {
				a.cfg.MaxYears = maxYears
			}
			if maxInstances > 0 {
				a.cfg.MaxInstances = maxInstances
			}
			name := a.cfg.Timezone
			if tzName != "" {
				name = tzName
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				return fmt.Errorf("timezone %q: %w", name, err)
			}
			win := pipeline.Window{Location: loc}
			if start != "" {
				if win.Start, err = parseWhen(start, loc); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			if end != "" {
				if win.End, err = parseWhen(end, loc); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}

			in, format, err := a.readInput(ctx, cmd, args, from)
			if err != nil {
				return err
			}
			pipe := pipeline.New(pipeline.OptionsFromConfig(a.cfg, nil))
			infos, err := pipe.Decode(ctx, in, format)
			if err != nil {
				return err
			}
			res, err := pipe.Expand(infos, win)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				lines := make([]occurrenceLine, 0, len(res.Occurrences))
				for _, o := range res.Occurrences {
					lines = append(lines, occurrenceLine{
						UID:         o.UID,
						InstanceKey: o.InstanceKey,
						Override:    o.Override,
						Summary:     o.Summary,
						AllDay:      o.AllDay,
						Start:       o.Start,
						End:         o.End,
					})
				}
				if err := json.MarshalWrite(out, lines, jsontext.Multiline(true)); err != nil {
					return err
				}
				fmt.Fprintln(out)
			} else {
				for _, o := range res.Occurrences {
					mark := " "
					if o.Override {
						mark = "*"
					}
					fmt.Fprintf(out, "%s %s  %s  %s  %s\n", mark,
						o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339), o.UID, o.Summary)
				}
			}
			errOut := cmd.ErrOrStderr()
			for _, uid := range res.TruncatedEvents {
				fmt.Fprintf(errOut, "truncated: %s hit the instance cap\n", uid)
			}
			for _, d := range res.Divergent {
				fmt.Fprintf(errOut, "divergent: %s override at %s is excluded\n", d.UID, d.RecurrenceID.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Input encoding: text, xml, json (detected when unset)")
	cmd.Flags().StringVar(&start, "start", "", "Window start, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Window end, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&tzName, "tz", "", "Display timezone (config timezone when unset)")
	cmd.Flags().IntVar(&maxYears, "max-years", 0, "Expansion horizon in years")
	cmd.Flags().IntVar(&maxInstances, "max-instances", 0, "Instance cap per event")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print occurrences as JSON")
	return cmd
}

func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}
