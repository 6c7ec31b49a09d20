package main

import (
	"strings"

	"github.com/spf13/cobra"

	"calcore/internal/pipeline"
	"calcore/internal/wire"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		from     string
		to       string
		method   string
		reserved bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "convert [input]",
		Short: "Convert a calendar between iCalendar, xCal and jCal",
		Long: `Convert reads a calendar from a file, a URL or stdin, translates every
component onto the event graph and emits it again.

Examples:
  calcore convert team.ics --to json
  calcore convert https://example.com/cal.ics --to xml -o cal.xml
  cat cal.json | calcore convert --from json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, format, err := a.readInput(ctx, cmd, args, from)
			if err != nil {
				return err
			}
			outFormat := a.cfg.Format()
			if to != "" {
				if outFormat, err = wire.ParseFormat(to); err != nil {
					return err
				}
			}
			w, closeOut, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			pipe := pipeline.New(pipeline.OptionsFromConfig(a.cfg, nil))
			if err := pipe.Convert(ctx, in, format, w, pipeline.EmitOptions{
				Format:   outFormat,
				Method:   strings.ToUpper(method),
				Reserved: reserved,
			}); err != nil {
				_ = closeOut()
				return err
			}
			return closeOut()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Input encoding: text, xml, json (detected when unset)")
	cmd.Flags().StringVar(&to, "to", "", "Output encoding: text, xml, json (config output_format when unset)")
	cmd.Flags().StringVar(&method, "method", "", "iTIP METHOD to write (the input's when unset)")
	cmd.Flags().BoolVar(&reserved, "reserved", false, "Also write in-band timezone and snapshot properties")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when unset)")
	return cmd
}
