package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/knxnet/client"
)

type monitorFlags struct {
	json bool
}

func newMonitorCmd(g *globalFlags) *cobra.Command {
	flags := &monitorFlags{}

	cmd := &cobra.Command{
		Use:   "monitor [address]",
		Short: "Print telegrams as they arrive",
		Long: `Monitor prints every indication the gateway forwards until interrupted.
With an address argument only telegrams for that destination are shown.
Values are decoded for addresses with a datapoint type in bridge.dpts.`,
		Example: `  knxnetip monitor -g 192.168.1.50
  knxnetip monitor -g 224.0.23.12 1/2/3 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := client.EventAll
			if len(args) == 1 {
				dest, err := address.ParseAny(args[0])
				if err != nil {
					return err
				}
				event = client.DestinationEvent(dest)
			}

			s, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			exec := s.executor()
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			cancel := s.conn.On(event, func(ev client.Event) {
				mu.Lock()
				defer mu.Unlock()
				if err := printTelegram(out, exec.Telegram(ev), flags.json); err != nil {
					s.log.Warn("print telegram", "error", err)
				}
			})
			defer cancel()

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.json, "json", false, "Print one JSON object per telegram")
	return cmd
}

// printTelegram writes one telegram as a line of text or JSON.
func printTelegram(w io.Writer, t bridge.Telegram, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(bridge.NewTelegramMessage(t))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	line := fmt.Sprintf("%s  %-9s -> %-9s %-20s %s",
		t.Time.Format("15:04:05.000"), t.Source, t.Destination, t.APCI, hex.EncodeToString(t.Data))
	if t.DPT != "" && t.Value != nil {
		line += fmt.Sprintf("  [%s] %v", t.DPT, t.Value)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
