package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a KNXnet/IP datagram",
		Long: `Decode parses one KNXnet/IP datagram given in hex and prints its fields.
Spaces, colons and a leading 0x are ignored.`,
		Example: `  knxnetip decode 06100530001129 00bce011050a03010081`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			hdr, dg, err := codec.Decode(raw)
			if err != nil {
				return fmt.Errorf("decoding datagram: %w", err)
			}
			describeDatagram(cmd.OutOrStdout(), hdr, dg)
			return nil
		},
	}
}

// parseHex decodes hex that may contain spaces, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "").Replace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

var priorityNames = [...]string{
	codec.PrioritySystem: "system",
	codec.PriorityNormal: "normal",
	codec.PriorityUrgent: "urgent",
	codec.PriorityLow:    "low",
}

// describeDatagram prints a header line followed by one indented line per
// field group.
func describeDatagram(w io.Writer, hdr codec.Header, dg codec.Datagram) {
	fmt.Fprintf(w, "%s (0x%04X) length %d\n", hdr.ServiceType, uint16(hdr.ServiceType), hdr.TotalLength)

	switch d := dg.(type) {
	case codec.ConnectRequest:
		fmt.Fprintf(w, "  control  %s\n", describeHPAI(d.Control))
		fmt.Fprintf(w, "  tunnel   %s\n", describeHPAI(d.Tunnel))
		fmt.Fprintf(w, "  cri      type 0x%02X layer 0x%02X\n", uint8(d.CRI.ConnectionType), d.CRI.KNXLayer)
	case codec.ConnectResponse:
		describeConnState(w, d.ConnState)
		if d.Endpoint != nil {
			fmt.Fprintf(w, "  endpoint %s\n", describeHPAI(*d.Endpoint))
		}
		if d.CRI != nil {
			// The response CRD carries the assigned individual address in
			// the layer and unused bytes.
			fmt.Fprintf(w, "  crd      type 0x%02X address %d.%d.%d\n",
				uint8(d.CRI.ConnectionType), d.CRI.KNXLayer>>4, d.CRI.KNXLayer&0x0F, d.CRI.Unused) //nolint:mnd // area and line nibbles
		}
	case codec.ConnectionStateRequest:
		describeConnState(w, d.ConnState)
		if d.Control != nil {
			fmt.Fprintf(w, "  control  %s\n", describeHPAI(*d.Control))
		}
	case codec.ConnectionStateResponse:
		describeConnState(w, d.ConnState)
	case codec.DisconnectRequest:
		describeConnState(w, d.ConnState)
		if d.Control != nil {
			fmt.Fprintf(w, "  control  %s\n", describeHPAI(*d.Control))
		}
	case codec.DisconnectResponse:
		describeConnState(w, d.ConnState)
	case codec.DescriptionResponse:
		fmt.Fprintf(w, "  dibs     %s\n", hex.EncodeToString(d.Raw))
	case codec.TunnelingRequest:
		describeTunnState(w, d.TunnState)
		describeCEMI(w, d.CEMI)
	case codec.TunnelingAck:
		describeTunnState(w, d.TunnState)
	case codec.RoutingIndication:
		describeCEMI(w, d.CEMI)
	default:
		fmt.Fprintf(w, "  %T\n", dg)
	}
}

func describeHPAI(h codec.HPAI) string {
	if !h.Endpoint.IsValid() || h.Endpoint.Addr().IsUnspecified() {
		return "route back (0.0.0.0:0)"
	}
	return h.Endpoint.String()
}

func describeConnState(w io.Writer, cs codec.ConnState) {
	fmt.Fprintf(w, "  channel  %d status %s\n", cs.ChannelID, cs.Status)
}

func describeTunnState(w io.Writer, ts codec.TunnState) {
	fmt.Fprintf(w, "  channel  %d seq %d\n", ts.ChannelID, ts.Seqnum)
}

func describeCEMI(w io.Writer, c codec.CEMI) {
	fmt.Fprintf(w, "  cemi     %s %s -> %s\n", c.MessageCode, c.Source, c.Destination)

	ctl := c.Control
	flags := []string{"priority " + priorityNames[ctl.Priority&0x03], fmt.Sprintf("hops %d", ctl.HopCount)}
	if ctl.FrameType == codec.FrameExtended {
		flags = append(flags, "extended")
	}
	if !ctl.Repeat {
		// The repeat bit is inverted on the wire: clear means repeated.
		flags = append(flags, "repeated")
	}
	if ctl.Ack {
		flags = append(flags, "ack-requested")
	}
	if ctl.Confirm {
		flags = append(flags, "error")
	}
	fmt.Fprintf(w, "  control  %s\n", strings.Join(flags, ", "))

	if len(c.AdditionalInfo) > 0 {
		fmt.Fprintf(w, "  addinfo  %s\n", hex.EncodeToString(c.AdditionalInfo))
	}
	if c.APDU != nil {
		fmt.Fprintf(w, "  apdu     %s %s\n", c.APDU.Label(), hex.EncodeToString(c.APDU.Data))
	}
}
