package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/knx/address"
	"github.com/nerrad567/knxnetip/internal/management"
)

func newDeviceCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Device management over a point-to-point connection",
		Long: `Device commands open a connection-oriented session to one device by
its individual address and run a management service on it.`,
	}

	cmd.AddCommand(newMemoryReadCmd(g))
	cmd.AddCommand(newPropertyReadCmd(g))
	cmd.AddCommand(newSerialCmd(g))
	cmd.AddCommand(newDescriptorCmd(g))
	cmd.AddCommand(newProgModeCmd(g))
	cmd.AddCommand(newRestartCmd(g))
	cmd.AddCommand(newRunStateCmd(g))
	cmd.AddCommand(newLoadStateCmd(g))
	cmd.AddCommand(newAppIDCmd(g))
	cmd.AddCommand(newManufacturerCmd(g))
	cmd.AddCommand(newOrderNumberCmd(g))
	return cmd
}

// withManager opens a session and runs fn with a management client for the
// device named by arg.
func (g *globalFlags) withManager(cmd *cobra.Command, arg string, fn func(*management.Manager, address.DeviceAddress) error) error {
	target, err := address.ParseDevice(arg)
	if err != nil {
		return err
	}

	s, err := g.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	return fn(management.New(s.conn, management.DefaultTimeout, s.log), target)
}

func newMemoryReadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "memory-read <device> <address> <count>",
		Short:   "Read device memory",
		Example: "  knxnetip device memory-read 1.1.5 0x0060 1",
		Args:    cobra.ExactArgs(3), //nolint:mnd // device, address, count
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseUint(args[1], 16) //nolint:mnd // memory address width
			if err != nil {
				return fmt.Errorf("memory address: %w", err)
			}
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}

			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				data, err := m.ReadMemory(cmd.Context(), target, uint16(addr), n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s @0x%04X: %s\n", target, addr, hex.EncodeToString(data))
				return nil
			})
		},
	}
}

type propertyReadFlags struct {
	count uint8
	start uint16
}

func newPropertyReadCmd(g *globalFlags) *cobra.Command {
	flags := &propertyReadFlags{}

	cmd := &cobra.Command{
		Use:     "property-read <device> <object> <property>",
		Short:   "Read an interface object property",
		Example: "  knxnetip device property-read 1.1.5 0 11",
		Args:    cobra.ExactArgs(3), //nolint:mnd // device, object, property
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := parseUint(args[1], 8) //nolint:mnd // object index width
			if err != nil {
				return fmt.Errorf("object index: %w", err)
			}
			id, err := parseUint(args[2], 8) //nolint:mnd // property ID width
			if err != nil {
				return fmt.Errorf("property ID: %w", err)
			}
			p := management.Property{
				Object: uint8(obj),
				ID:     uint8(id),
				Count:  flags.count,
				Start:  flags.start,
			}

			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				data, err := m.ReadProperty(cmd.Context(), target, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s object %d property %d: %s\n", target, p.Object, p.ID, hex.EncodeToString(data))
				return nil
			})
		},
	}

	cmd.Flags().Uint8Var(&flags.count, "count", 1, "Number of elements (1-15)")
	cmd.Flags().Uint16Var(&flags.start, "start", 1, "First element index (0-4095)")
	return cmd
}

func newSerialCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serial <device>",
		Short: "Read the device serial number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				sn, err := m.ReadSerialNumber(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s serial %s\n", target, formatSerial(sn))
				return nil
			})
		},
	}
}

func newDescriptorCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor <device>",
		Short: "Read the device descriptor (mask version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				mask, err := m.ReadDeviceDescriptor(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s mask version %04X\n", target, mask)
				return nil
			})
		},
	}
}

func newProgModeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "progmode <device> [on|off]",
		Short: "Show or switch programming mode",
		Example: `  knxnetip device progmode 1.1.5
  knxnetip device progmode 1.1.5 off`,
		Args:      cobra.RangeArgs(1, 2), //nolint:mnd // device and optional state
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var set, on bool
			if len(args) == 2 { //nolint:mnd // state given
				switch args[1] {
				case "on":
					set, on = true, true
				case "off":
					set = true
				default:
					return fmt.Errorf("programming mode %q: want on or off", args[1])
				}
			}

			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				if set {
					if err := m.SetProgrammingMode(cmd.Context(), target, on); err != nil {
						return err
					}
				}
				state, err := m.ProgrammingMode(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s programming mode %s\n", target, onOff(state))
				return nil
			})
		},
	}
}

func newRestartCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <device>",
		Short: "Restart a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				if err := m.Restart(cmd.Context(), target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s restart sent\n", target)
				return nil
			})
		},
	}
}

func newRunStateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "runstate <device> <1|2> [restart|stop]",
		Short: "Show or control an application's run state",
		Example: `  knxnetip device runstate 1.1.5 1
  knxnetip device runstate 1.1.5 1 stop`,
		Args:      cobra.RangeArgs(2, 3), //nolint:mnd // device, application and optional event
		ValidArgs: []string{"restart", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := parseApplication(args[1])
			if err != nil {
				return err
			}
			event := management.RunNoOp
			if len(args) == 3 { //nolint:mnd // event given
				switch args[2] {
				case "restart":
					event = management.RunRestart
				case "stop":
					event = management.RunStop
				default:
					return fmt.Errorf("run control %q: want restart or stop", args[2])
				}
			}

			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				var state management.RunState
				if event == management.RunNoOp {
					state, err = m.ReadApplicationRunState(cmd.Context(), target, app)
				} else {
					state, err = m.SetApplicationRunState(cmd.Context(), target, app, event)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s application %d %s\n", target, app, state)
				return nil
			})
		},
	}
}

func newLoadStateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "loadstate <device> <1|2>",
		Short:   "Show an application's load state",
		Example: "  knxnetip device loadstate 1.1.5 1",
		Args:    cobra.ExactArgs(2), //nolint:mnd // device, application
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := parseApplication(args[1])
			if err != nil {
				return err
			}
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				state, err := m.ReadApplicationLoadState(cmd.Context(), target, app)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s application %d %s\n", target, app, state)
				return nil
			})
		},
	}
}

func newAppIDCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "app-id <device> <1|2>",
		Short:   "Show which program an application slot holds",
		Example: "  knxnetip device app-id 1.1.5 1",
		Args:    cobra.ExactArgs(2), //nolint:mnd // device, application
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := parseApplication(args[1])
			if err != nil {
				return err
			}
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				id, err := m.ReadApplicationID(cmd.Context(), target, app)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s application %d program %s\n", target, app, id)
				return nil
			})
		},
	}
}

func newManufacturerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "manufacturer <device>",
		Short: "Read the KNX manufacturer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				id, err := m.ReadManufacturerID(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s manufacturer %04X\n", target, id)
				return nil
			})
		},
	}
}

func newOrderNumberCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "order-number <device>",
		Short: "Read the manufacturer's order number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withManager(cmd, args[0], func(m *management.Manager, target address.DeviceAddress) error {
				on, err := m.ReadOrderNumber(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s order number %s\n", target, formatOrderNumber(on))
				return nil
			})
		},
	}
}

// parseApplication accepts application index 1 or 2.
func parseApplication(s string) (int, error) {
	app, err := strconv.Atoi(s)
	if err != nil || (app != 1 && app != 2) {
		return 0, fmt.Errorf("%w: %q", management.ErrInvalidApplication, s)
	}
	return app, nil
}

// formatOrderNumber prints printable ASCII order numbers as text with the
// zero padding removed, and anything else as hex.
func formatOrderNumber(b []byte) string {
	trimmed := bytes.TrimRight(b, "\x00 ")
	for _, c := range trimmed {
		if c < 0x20 || c > 0x7E {
			return hex.EncodeToString(b)
		}
	}
	if len(trimmed) == 0 {
		return hex.EncodeToString(b)
	}
	return string(trimmed)
}

// parseUint accepts decimal, 0x hex and 0o/0b forms.
func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}

// formatSerial prints a serial number the way ETS shows it: 0001:23456789.
func formatSerial(sn []byte) string {
	if len(sn) != management.SerialNumberLength {
		return hex.EncodeToString(sn)
	}
	return fmt.Sprintf("%X:%X", sn[:2], sn[2:])
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
