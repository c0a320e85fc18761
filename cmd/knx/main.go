// Licensed under the MIT license which can be found in the LICENSE file.

// Command knx is a small CLI front-end for the knx-go bus client library:
// it can discover KNXnet/IP servers, dump traffic off a tunnel or the
// routing multicast group, and read/write device management properties.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/knxlab/knx-go/knx"
	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
	"github.com/knxlab/knx-go/knx/util"
)

// slogAdapter lets util.Log write through a *slog.Logger, so the library's
// narrow util.Logger interface never has to import log/slog itself.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func main() {
	app := &cli.App{
		Name:  "knx",
		Usage: "talk to a KNX bus over KNXnet/IP or USB",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "optional YAML config file"},
			&cli.StringFlag{Name: "tunnel", Usage: "KNXnet/IP server address, \"ip:port\""},
			&cli.StringFlag{Name: "multicast", Usage: "routing/discovery multicast address, defaults to 224.0.23.12:3671"},
			&cli.StringFlag{Name: "usb", Usage: "USB HID device path"},
			&cli.BoolFlag{Name: "busmonitor", Usage: "open the tunnel in busmonitor layer"},
			&cli.DurationFlag{Name: "timeout", Usage: "response/search timeout", Value: 10 * time.Second},
			&cli.BoolFlag{Name: "verbose", Usage: "log library activity to stderr"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				handler := slog.NewTextHandler(os.Stderr, nil)
				util.SetLogger(slogAdapter{logger: slog.New(handler)})
			}
			return nil
		},
		Commands: []*cli.Command{
			dumpCommand,
			discoverCommand,
			readPropertyCommand,
			writePropertyCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// resolveFlags merges an optional config file under the CLI flags, CLI flags
// taking precedence whenever set.
func resolveFlags(c *cli.Context) (tunnel, multicast, usbPath string, busmonitor bool, timeout time.Duration, err error) {
	cfg, err := loadFileConfig(c.String("config"))
	if err != nil {
		return "", "", "", false, 0, err
	}

	var flagTimeout time.Duration
	if c.IsSet("timeout") {
		flagTimeout = c.Duration("timeout")
	}

	tunnel, multicast, usbPath, busmonitor, timeout = cfg.applyDefaults(
		c.String("tunnel"), c.String("multicast"), c.String("usb"),
		c.Bool("busmonitor"), flagTimeout,
	)
	if timeout == 0 {
		timeout = c.Duration("timeout")
	}

	return
}

var dumpCommand = &cli.Command{
	Name:  "dump",
	Usage: "print inbound frames from a tunnel or the routing multicast group",
	Action: func(c *cli.Context) error {
		tunnel, multicast, usbPath, busmonitor, timeout, err := resolveFlags(c)
		if err != nil {
			return cli.Exit(err, 1)
		}

		switch {
		case tunnel != "":
			return dumpTunnel(tunnel, busmonitor, timeout)
		case usbPath != "":
			return cli.Exit(errors.New("knx: no USB HID enumerator is wired into this build, pass --tunnel or --multicast instead"), 1)
		default:
			return dumpRouter(multicast)
		}
	},
}

func dumpTunnel(address string, busmonitor bool, timeout time.Duration) error {
	layer := knxnet.TunnelLayerData
	if busmonitor {
		layer = knxnet.TunnelLayerBusmonitor
	}

	config := knx.DefaultTunnelConfig()
	config.ResponseTimeout = timeout

	t, err := knx.NewTunnel(address, layer, config)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer t.Close()

	for msg := range t.Inbound() {
		printMessage(msg)
	}

	return nil
}

func dumpRouter(multicastAddr string) error {
	r, err := knx.NewRouter(multicastAddr)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer r.Close()

	for {
		select {
		case msg, open := <-r.Recv():
			if !open {
				return nil
			}
			printMessage(msg)

		case lost := <-r.LostMessages():
			fmt.Printf("ROUTING_LOST_MESSAGE: deviceState=0x%02x count=%d\n", lost.DeviceState, lost.Count)

		case busy := <-r.BusyNotifications():
			fmt.Printf("ROUTING_BUSY: waitTime=%s busyCounter=%d\n", busy.WaitTime, busy.BusyCounter)
		}
	}
}

func printMessage(msg cemi.Message) {
	switch m := msg.(type) {
	case *cemi.LDataInd:
		fmt.Printf("L_Data.ind %v -> %v: %v\n", m.Source, m.Destination, m.Data)
	case *cemi.LDataCon:
		fmt.Printf("L_Data.con %v -> %v: %v\n", m.Source, m.Destination, m.Data)
	case *cemi.BusmonInd:
		fmt.Printf("L_Busmon.ind: % x\n", m.Payload)
	default:
		fmt.Printf("%T: %+v\n", msg, msg)
	}
}

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "find KNXnet/IP servers via multicast",
	Action: func(c *cli.Context) error {
		_, multicast, _, _, timeout, err := resolveFlags(c)
		if err != nil {
			return cli.Exit(err, 1)
		}

		endpoints, err := knx.Discover(multicast, timeout)
		if err != nil {
			return cli.Exit(err, 1)
		}

		for _, ep := range endpoints {
			fmt.Printf("%s %s:%d caps=0x%08x knxAddr=%v\n", ep.FriendlyName, ep.IP, ep.Port, ep.Capabilities, ep.KNXAddress)
		}

		return nil
	},
}

func propertyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "object-type", Required: true, Usage: "interface object type"},
		&cli.UintFlag{Name: "instance", Value: 1, Usage: "object instance"},
		&cli.UintFlag{Name: "property", Required: true, Usage: "property ID"},
		&cli.UintFlag{Name: "count", Value: 1, Usage: "number of elements"},
		&cli.UintFlag{Name: "start", Value: 1, Usage: "start index"},
	}
}

var readPropertyCommand = &cli.Command{
	Name:  "read-property",
	Usage: "read an interface object property over a device management connection",
	Flags: propertyFlags(),
	Action: func(c *cli.Context) error {
		tunnel, _, _, _, timeout, err := resolveFlags(c)
		if err != nil {
			return cli.Exit(err, 1)
		}
		if tunnel == "" {
			return cli.Exit(errors.New("knx: --tunnel is required"), 1)
		}

		config := knx.DefaultTunnelConfig()
		config.PropertyTimeout = timeout

		mgmt, err := knx.NewDeviceMgmt(tunnel, config)
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer mgmt.Close()

		con, err := mgmt.ReadProperty(
			cemi.ObjectType(c.Uint("object-type")), uint8(c.Uint("instance")),
			cemi.PropertyID(c.Uint("property")), uint8(c.Uint("count")), uint16(c.Uint("start")),
		)
		if err != nil {
			return cli.Exit(err, 1)
		}

		fmt.Printf("% x\n", con.Data)
		return nil
	},
}

var writePropertyCommand = &cli.Command{
	Name:  "write-property",
	Usage: "write an interface object property over a device management connection",
	Flags: append(propertyFlags(), &cli.StringFlag{Name: "data", Required: true, Usage: "hex-encoded property data"}),
	Action: func(c *cli.Context) error {
		tunnel, _, _, _, timeout, err := resolveFlags(c)
		if err != nil {
			return cli.Exit(err, 1)
		}
		if tunnel == "" {
			return cli.Exit(errors.New("knx: --tunnel is required"), 1)
		}

		data, err := parseHex(c.String("data"))
		if err != nil {
			return cli.Exit(err, 1)
		}

		config := knx.DefaultTunnelConfig()
		config.PropertyTimeout = timeout

		mgmt, err := knx.NewDeviceMgmt(tunnel, config)
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer mgmt.Close()

		err = mgmt.WriteProperty(
			cemi.ObjectType(c.Uint("object-type")), uint8(c.Uint("instance")),
			cemi.PropertyID(c.Uint("property")), uint8(c.Uint("count")), uint16(c.Uint("start")), data,
		)
		if err != nil {
			return cli.Exit(err, 1)
		}

		return nil
	},
}

func parseHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("knx: hex data must have an even number of digits")
	}

	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[2*i:2*i+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("knx: invalid hex data: %w", err)
		}
		out[i] = byte(b)
	}

	return out, nil
}
