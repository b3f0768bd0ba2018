package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/roomlink/cipher"
	"github.com/wricardo/roomlink/console"
	"github.com/wricardo/roomlink/crypt"
	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/session"
	"github.com/wricardo/roomlink/transport/websocket"
)

func (a *app) connectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "connect, join a room and send stdin lines as room messages",
		ArgsUsage: "[address] [room]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-join", Usage: "stay connected without joining a room"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			address := argOr(cmd, 0, a.cfg.Client.Address)
			roomName := argOr(cmd, 1, a.cfg.Client.Room)
			if cmd.Bool("no-join") {
				roomName = ""
			}

			mgr := a.newManager(ctx)
			return runConnect(ctx, mgr, address, roomName, stdin(cmd), stdout(cmd))
		},
	}
}

// runConnect streams session events to out and sends each line read from in
// to the joined room. It returns when in is exhausted, ctx is done or the
// connection closes.
func runConnect(ctx context.Context, mgr *session.Manager, address, roomName string, in io.Reader, out io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	for _, ch := range eventbus.AllChannels() {
		if ch == eventbus.Message {
			continue
		}
		mgr.Subscribe(ch, func(ev eventbus.Event) {
			if detail := session.Describe(ev.Detail); detail != "" {
				printf("%s %s\n", ev.Channel, detail)
			} else {
				printf("%s\n", ev.Channel)
			}
		})
	}

	if roomName != "" {
		mgr.Subscribe(eventbus.Open, func(eventbus.Event) {
			mgr.JoinRoom(roomName, nil)
		})
	}

	closed := make(chan websocket.CloseDetail, 1)
	mgr.Subscribe(eventbus.Close, func(ev eventbus.Event) {
		d, _ := ev.Detail.(websocket.CloseDetail)
		select {
		case closed <- d:
		default:
		}
	})

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	mgr.Connect(address)
	defer mgr.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d := <-closed:
			if d.Code == websocket.CloseNormal {
				return nil
			}
			return fmt.Errorf("connection to %s closed: %s", address, d)

		case line, ok := <-lines:
			if !ok {
				if mgr.Joined() {
					mgr.LeaveRoom()
				}
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !mgr.Joined() {
				printf("not in a room, dropped %q\n", line)
				continue
			}
			mgr.Send(parseLine(line))
		}
	}
}

// parseLine sends JSON lines as structured data and anything else as a
// string.
func parseLine(line string) any {
	var data any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return line
	}
	return data
}

func (a *app) roomsCommand() *cli.Command {
	return &cli.Command{
		Name:      "rooms",
		Usage:     "print rooms with free capacity",
		ArgsUsage: "[address] [name]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the list as JSON"},
			&cli.DurationFlag{Name: "timeout", Usage: "how long to wait for the connection", Value: 10 * time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			address := argOr(cmd, 0, a.cfg.Client.Address)
			name := argOr(cmd, 1, "")

			mgr := a.newManager(ctx)
			defer mgr.Close()

			rooms, err := queryRooms(ctx, mgr, address, name, cmd.Duration("timeout"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(stdout(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(rooms)
			}
			return printRooms(stdout(cmd), rooms)
		},
	}
}

// queryRooms connects, waits for the socket to open and asks for the rooms
// named name.
func queryRooms(ctx context.Context, mgr *session.Manager, address, name string, timeout time.Duration) ([]protocol.RoomAvailable, error) {
	opened := make(chan struct{}, 1)
	closed := make(chan websocket.CloseDetail, 1)
	subOpen := mgr.Subscribe(eventbus.Open, func(eventbus.Event) {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	subClose := mgr.Subscribe(eventbus.Close, func(ev eventbus.Event) {
		d, _ := ev.Detail.(websocket.CloseDetail)
		select {
		case closed <- d:
		default:
		}
	})
	defer mgr.Unsubscribe(subOpen)
	defer mgr.Unsubscribe(subClose)

	mgr.Connect(address)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-opened:
	case d := <-closed:
		return nil, fmt.Errorf("connection to %s closed: %s", address, d)
	case <-timer.C:
		return nil, fmt.Errorf("connection to %s timed out after %s", address, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return mgr.AvailableRooms(ctx, name), nil
}

func printRooms(w io.Writer, rooms []protocol.RoomAvailable) error {
	if len(rooms) == 0 {
		_, err := fmt.Fprintln(w, "No rooms available")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tNAME\tCLIENTS\tMAX")
	for _, r := range rooms {
		capacity := "-"
		if r.MaxClients > 0 {
			capacity = fmt.Sprint(r.MaxClients)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.RoomID, r.Name, r.Clients, capacity)
	}
	return tw.Flush()
}

func (a *app) consoleCommand() *cli.Command {
	return &cli.Command{
		Name:      "console",
		Usage:     "interactive room console",
		ArgsUsage: "[address]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			address := argOr(cmd, 0, a.cfg.Client.Address)
			return console.Run(ctx, a.newManager(ctx), address)
		},
	}
}

func (a *app) cipherCommand() *cli.Command {
	codec := func() (*cipher.Codec, error) { return cipher.New(a.cfg.Cipher.Key) }

	return &cli.Command{
		Name:  "cipher",
		Usage: "apply the keyed byte-shift cipher",
		Commands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "encode text",
				ArgsUsage: "<text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					text, err := inputText(cmd)
					if err != nil {
						return err
					}
					c, err := codec()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(stdout(cmd), c.Encode(text))
					return err
				},
			},
			{
				Name:      "decode",
				Usage:     "decode text produced by encode",
				ArgsUsage: "<text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					text, err := inputText(cmd)
					if err != nil {
						return err
					}
					c, err := codec()
					if err != nil {
						return err
					}
					plain, err := c.Decode(text)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(stdout(cmd), plain)
					return err
				},
			},
		},
	}
}

func (a *app) cryptCommand() *cli.Command {
	transform := func(op func(*crypt.Box, string) (string, error)) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			text, err := inputText(cmd)
			if err != nil {
				return err
			}
			box, err := crypt.New(a.cfg.Cipher.Secret)
			if err != nil {
				return err
			}
			result, err := op(box, text)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout(cmd), result)
			return err
		}
	}

	return &cli.Command{
		Name:  "crypt",
		Usage: "authenticated encryption with the configured secret",
		Commands: []*cli.Command{
			{
				Name:      "encrypt",
				Usage:     "encrypt text",
				ArgsUsage: "<text>",
				Action:    transform((*crypt.Box).Encrypt),
			},
			{
				Name:      "decrypt",
				Usage:     "decrypt text produced by encrypt",
				ArgsUsage: "<text>",
				Action:    transform((*crypt.Box).Decrypt),
			},
		},
	}
}

var errNoInput = errors.New("no input text")

// inputText joins the positional arguments, or reads stdin when there are
// none or the only argument is "-".
func inputText(cmd *cli.Command) (string, error) {
	args := cmd.Args().Slice()
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(stdin(cmd))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return "", errNoInput
	}
	return text, nil
}
