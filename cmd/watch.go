package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/sink"
	"github.com/duke-git/lancet/v2/strutil"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var WatchApp = &WatchCommand{}

type WatchCommand struct {
}

func (w *WatchCommand) Command() *cli.Command {
	return &cli.Command{
		Name:            "watch",
		Usage:           "connect a live room and print normalized events as json lines",
		ArgsUsage:       "<room id>",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "cookie",
				Aliases: []string{"c"},
				Usage:   "account cookie, needs SESSDATA for full user info",
				EnvVars: []string{"BILI_COOKIE"},
			},
			&cli.StringFlag{
				Name:    "kinds",
				Aliases: []string{"k"},
				Usage:   "comma separated event kinds to print, empty for all",
			},
			&cli.BoolFlag{
				Name:  "reconnect",
				Usage: "reconnect when the upstream is lost",
				Value: true,
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "treat the upstream as lost after no messages for this long, 0 disables",
			},
		},
		Action: w.action,
	}
}

func (w *WatchCommand) action(c *cli.Context) error {
	var roomId uint64
	if _, err := fmt.Sscan(c.Args().First(), &roomId); err != nil || roomId == 0 {
		return fmt.Errorf("invalid room id: %q", c.Args().First())
	}
	kinds, err := sink.ParseKinds(strutil.SplitAndTrim(c.String("kinds"), ","))
	if err != nil {
		return err
	}
	sv := room.NewSupervisor(agent.NewFactory(agent.Options{IdleTimeout: c.Duration("idle-timeout")}))
	defer sv.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := sink.NewWriter(os.Stdout, kinds)
	if err := sv.Attach(ctx, roomId, out, room.StartOptions{
		Cookie:        c.String("cookie"),
		AutoReconnect: c.Bool("reconnect"),
	}); err != nil {
		return err
	}
	klog.Infof("watching room %d, ctrl+c to stop", roomId)
	<-ctx.Done()
	klog.Info("stopping...")
	sv.Disconnect(roomId)
	return nil
}
