package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/knxnet/codec"
)

// pcapngMagic is the section header block type that opens a pcapng file.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type pcapFlags struct {
	input string
	port  uint16
}

// pcapSummary counts what a capture contained.
type pcapSummary struct {
	Packets     int
	Datagrams   int
	Undecodable int
}

func newPcapCmd() *cobra.Command {
	flags := &pcapFlags{}

	cmd := &cobra.Command{
		Use:   "pcap",
		Short: "Decode KNXnet/IP datagrams from a packet capture",
		Long: `Pcap reads a pcap or pcapng file and decodes every UDP payload sent to
or from the KNXnet/IP port. Nothing is sent on the network.`,
		Example: "  knxnetip pcap --input session.pcap",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(flags.input)
			if err != nil {
				return fmt.Errorf("open capture: %w", err)
			}
			defer f.Close()

			out := cmd.OutOrStdout()
			sum, err := decodeCapture(f, flags.port, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d packets, %d KNXnet/IP datagrams, %d undecodable\n",
				sum.Packets, sum.Datagrams, sum.Undecodable)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "Capture file (pcap or pcapng)")
	cmd.Flags().Uint16Var(&flags.port, "udp-port", codec.DefaultPort, "UDP port that carries KNXnet/IP")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// decodeCapture reads packets from r and describes each KNXnet/IP datagram
// on w.
//
// Parameters:
//   - r: pcap or pcapng stream
//   - port: UDP port that marks KNXnet/IP traffic
//   - w: Destination for the descriptions
//
// Returns:
//   - pcapSummary: Packet and datagram counts
//   - error: If the capture header cannot be read
func decodeCapture(r io.Reader, port uint16, w io.Writer) (pcapSummary, error) {
	capture, err := openCapture(r)
	if err != nil {
		return pcapSummary{}, err
	}

	var sum pcapSummary
	packets := gopacket.NewPacketSource(capture, capture.LinkType())
	packets.DecodeOptions = gopacket.Lazy

	for {
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("reading packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, _ := udpLayer.(*layers.UDP)
		if uint16(udp.SrcPort) != port && uint16(udp.DstPort) != port {
			continue
		}

		src, dst := endpoints(packet, udp)
		fmt.Fprintf(w, "%s  %s -> %s\n", packet.Metadata().Timestamp.Format("15:04:05.000000"), src, dst)

		hdr, dg, err := codec.Decode(udp.Payload)
		if err != nil {
			sum.Undecodable++
			fmt.Fprintf(w, "  undecodable: %v\n", err)
			continue
		}
		sum.Datagrams++
		describeDatagram(w, hdr, dg)
	}
	return sum, nil
}

// captureSource is the part of the pcapgo readers decodeCapture needs.
type captureSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture picks the pcap or pcapng reader from the file magic.
func openCapture(r io.Reader) (captureSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}

	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("reading pcapng header: %w", err)
		}
		return ng, nil
	}

	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("reading pcap header: %w", err)
	}
	return rd, nil
}

// endpoints formats the UDP endpoints of packet as ip:port.
func endpoints(packet gopacket.Packet, udp *layers.UDP) (string, string) {
	if nl := packet.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		return fmt.Sprintf("%s:%d", flow.Src(), udp.SrcPort), fmt.Sprintf("%s:%d", flow.Dst(), udp.DstPort)
	}
	return fmt.Sprintf(":%d", udp.SrcPort), fmt.Sprintf(":%d", udp.DstPort)
}
