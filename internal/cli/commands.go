package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moroshma/hc2stream/pkg/fibaro"
)

func (a *app) discoverCmd() *cobra.Command {
	var (
		timeout   time.Duration
		listen    string
		broadcast string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find hubs on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var hubs []fibaro.DiscoveredHub
			opts := []fibaro.DiscoverOption{
				fibaro.WithTimeout(timeout),
				fibaro.WithDiscoveryLogger(a.logger()),
			}
			if listen != "" {
				opts = append(opts, fibaro.WithListenAddr(listen))
			}
			if broadcast != "" {
				opts = append(opts, fibaro.WithBroadcastAddr(broadcast))
			}

			err := fibaro.Discover(commandContext(cmd), func(h fibaro.DiscoveredHub) {
				hubs = append(hubs, h)
			}, opts...)
			if err != nil {
				return err
			}

			if a.jsonOutput() {
				return printJSON(a.out, hubs)
			}
			if len(hubs) == 0 {
				fmt.Fprintln(a.out, "No hubs found.")
				return nil
			}
			tw := newTable(a.out)
			fmt.Fprintln(tw, "IP\tSERIAL\tMAC")
			for _, h := range hubs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", h.IP, h.Serial, h.MAC)
			}
			flushTable(tw)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "wait", fibaro.DefaultDiscoveryTimeout, "How long to listen for replies")
	cmd.Flags().StringVar(&listen, "listen", "", "Local address to bind (default :44444)")
	cmd.Flags().StringVar(&broadcast, "broadcast", "", "Probe destination (default 255.255.255.255:44444)")
	return cmd
}

func (a *app) roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			rooms, err := client.Rooms(commandContext(cmd))
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(a.out, rooms)
			}
			tw := newTable(a.out)
			fmt.Fprintln(tw, "ID\tNAME\tSECTION")
			for _, r := range rooms {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", r.ID, dash(r.Name), r.SectionID)
			}
			flushTable(tw)
			return nil
		},
	}
}

func (a *app) scenesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenes",
		Short: "List scenes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			scenes, err := client.Scenes(commandContext(cmd))
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(a.out, scenes)
			}
			tw := newTable(a.out)
			fmt.Fprintln(tw, "ID\tNAME\tROOM")
			for _, s := range scenes {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", s.ID, dash(s.Name), s.RoomID)
			}
			flushTable(tw)
			return nil
		},
	}
}

func (a *app) devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices [id]",
		Short: "List devices or show one device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			var devices []fibaro.Device
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				d, err := client.Device(ctx, id)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return printJSON(a.out, d)
				}
				devices = []fibaro.Device{*d}
			} else {
				devices, err = client.Devices(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return printJSON(a.out, devices)
				}
			}

			tw := newTable(a.out)
			fmt.Fprintln(tw, "ID\tNAME\tROOM\tTYPE\tVALUE")
			for _, d := range devices {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", d.ID, dash(d.Name), d.RoomID, dash(d.Type), dash(string(d.Properties.Value)))
			}
			flushTable(tw)
			return nil
		},
	}
}

func (a *app) switchCmd(use, short string, fn func(*fibaro.Client, context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := fn(client, commandContext(cmd), id); err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(a.out, map[string]interface{}{"id": id, "action": use})
			}
			fmt.Fprintf(a.out, "Device %d: %s\n", id, use)
			return nil
		},
	}
}

func (a *app) toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Switch a device to the opposite state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			value, err := client.ToggleValue(commandContext(cmd), id)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(a.out, map[string]interface{}{"id": id, "value": value})
			}
			state := "off"
			if value == 1 {
				state = "on"
			}
			fmt.Fprintf(a.out, "Device %d: %s\n", id, state)
			return nil
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <id> <action>",
		Short: "Invoke a named action on a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.CallAction(commandContext(cmd), id, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Device %d: %s\n", id, args[1])
			return nil
		},
	}
}

func (a *app) rawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "raw <action> [key=value...]",
		Short: "Run any API action and print the response body",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid parameter %q, want key=value", kv)
				}
				params.Add(k, v)
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Call(commandContext(cmd), args[0], params)
			if err != nil {
				return err
			}
			if res.JSON != nil {
				var v interface{}
				if err := res.Decode(&v); err != nil {
					return err
				}
				return printJSON(a.out, v)
			}
			_, err = a.out.Write(res.Body)
			return err
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var (
		delay  time.Duration
		count  int
		resync bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print value changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				seen atomic.Int64
				sub  *fibaro.Subscriber
			)
			sub = client.NewSubscriber(func(_ context.Context, res fibaro.PollResult) error {
				if err := a.printChanges(res); err != nil {
					return err
				}
				if count > 0 && seen.Add(1) >= int64(count) {
					sub.Unsubscribe()
				}
				return nil
			},
				fibaro.WithPollDelay(delay),
				fibaro.WithPollerOptions(fibaro.WithResyncOnReset(resync)),
			)

			task, err := sub.Subscribe(ctx)
			if err != nil {
				return err
			}
			if err := task.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", fibaro.DefaultPollDelay, "Delay before each poll")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many reports with value changes (0 runs until interrupted)")
	cmd.Flags().BoolVar(&resync, "resync", true, "Jump to the server position when the hub counter resets")
	return cmd
}

func (a *app) printChanges(res fibaro.PollResult) error {
	for _, change := range res.Report.Changes {
		if !change.HasValue() {
			continue
		}
		if a.jsonOutput() {
			if err := printJSON(a.out, map[string]interface{}{
				"last":   res.Report.Last,
				"time":   res.Report.Time(),
				"change": change,
			}); err != nil {
				return err
			}
			continue
		}

		id, _ := change.DeviceID()
		fmt.Fprintf(a.out, "%s last=%d device=%d value=%s\n",
			res.Report.Time().Format(time.RFC3339), res.Report.Last, id, change["value"])
	}
	return nil
}
