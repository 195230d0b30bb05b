package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/bridge"
	"github.com/nerrad567/knxnetip/internal/knx/address"
)

// commandSource tags commands issued from the command line.
const commandSource = "cli"

type writeFlags struct {
	dpt      string
	hex      bool
	appended bool
	respond  bool
	json     bool
}

func newWriteCmd(g *globalFlags) *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "write <address> <value>",
		Short: "Send GroupValue_Write (or _Response) to an address",
		Long: `Write sends a value to a group address or device.

With a datapoint type (--dpt, or bridge.dpts in the config) the value is
parsed as JSON and encoded for that type; anything that is not valid JSON
is passed as a string. Without one, or with --hex, the value is the raw
payload in hex.`,
		Example: `  knxnetip write 1/2/3 01
  knxnetip write 1/2/4 21.5 --dpt 9.001
  knxnetip write 1/2/5 '{"red":255,"green":0,"blue":0}' --dpt 232.600`,
		Args: cobra.ExactArgs(2), //nolint:mnd // address and value
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := address.ParseAny(args[0])
			if err != nil {
				return err
			}

			s, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			exec := s.executor()
			id := flags.dpt
			if id == "" && !flags.hex {
				id = exec.DPT(dest.String())
			}

			msg := commandValue(args[1], id, flags.hex)
			msg.Action = bridge.ActionWrite
			if flags.respond {
				msg.Action = bridge.ActionRespond
			}
			msg.Appended = flags.appended
			msg.Source = commandSource

			ack := exec.Execute(cmd.Context(), msg, dest.String())
			return printAck(cmd.OutOrStdout(), ack, flags.json)
		},
	}

	cmd.Flags().StringVar(&flags.dpt, "dpt", "", "Datapoint type of the value (e.g. 1.001, 9.001)")
	cmd.Flags().BoolVar(&flags.hex, "hex", false, "Treat the value as hex even if a DPT is configured")
	cmd.Flags().BoolVar(&flags.appended, "appended", false, "Send a one-byte hex payload after the APCI")
	cmd.Flags().BoolVar(&flags.respond, "respond", false, "Send GroupValue_Response instead of GroupValue_Write")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the acknowledgement as JSON")
	return cmd
}

type readFlags struct {
	dpt  string
	json bool
}

func newReadCmd(g *globalFlags) *cobra.Command {
	flags := &readFlags{}

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Send GroupValue_Read and print the response",
		Example: `  knxnetip read 1/2/3
  knxnetip read 1/2/4 --dpt 9.001`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := address.ParseAny(args[0])
			if err != nil {
				return err
			}

			s, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			ack := s.executor().Execute(cmd.Context(), bridge.CommandMessage{
				Action: bridge.ActionRead,
				DPT:    flags.dpt,
				Source: commandSource,
			}, dest.String())
			return printAck(cmd.OutOrStdout(), ack, flags.json)
		},
	}

	cmd.Flags().StringVar(&flags.dpt, "dpt", "", "Datapoint type used to decode the response")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the acknowledgement as JSON")
	return cmd
}

// commandValue builds the payload part of a command from a command-line
// argument. With a DPT the argument is JSON, or a plain string if it does
// not parse. Without one, or when forceHex is set, it is hex.
func commandValue(arg, dptID string, forceHex bool) bridge.CommandMessage {
	if forceHex || dptID == "" {
		return bridge.CommandMessage{Data: arg}
	}

	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		v = arg
	}
	return bridge.CommandMessage{Value: v, DPT: dptID}
}

// printAck prints the outcome of a command. A failed command is returned
// as an error after the JSON form, if requested, is printed.
func printAck(w io.Writer, ack bridge.AckMessage, asJSON bool) error {
	if asJSON {
		b, err := json.MarshalIndent(ack, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
	}

	if ack.Status != bridge.AckAccepted {
		if ack.Error == nil {
			return fmt.Errorf("%s %s: %s", ack.Action, ack.Address, ack.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", ack.Action, ack.Address, ack.Error.Code, ack.Error.Message)
	}
	if asJSON {
		return nil
	}

	switch {
	case ack.Action != bridge.ActionRead:
		fmt.Fprintf(w, "%s %s: ok\n", ack.Action, ack.Address)
	case ack.Value != nil:
		fmt.Fprintf(w, "%s: %v (%s)\n", ack.Address, ack.Value, ack.Data)
	default:
		fmt.Fprintf(w, "%s: %s\n", ack.Address, ack.Data)
	}
	return nil
}
