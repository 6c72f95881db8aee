package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guseggert/rproxy/proxy"
	"github.com/guseggert/rproxy/wire"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "rproxy",
		Usage: "run processes, streams and watchers on a remote rproxy endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "The base URL of the remote endpoint.",
				Value:   "http://127.0.0.1:8080",
				EnvVars: []string{"RPROXY_ADDR"},
			},
			&cli.StringFlag{
				Name:    "codec",
				Usage:   "The wire codec to use. One of [json,cbor].",
				Value:   "json",
				EnvVars: []string{"RPROXY_CODEC"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "The minimum level to log at.",
				Value:   "warn",
				EnvVars: []string{"RPROXY_LOG_LEVEL"},
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for the endpoint to come up before connecting. Zero disables waiting.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "spawn",
				Usage:     "spawn a remote process, attaching stdin, stdout and stderr",
				ArgsUsage: "COMMAND [ARGS...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "env", Usage: "Environment variables (KEY=VALUE) for the process."},
					&cli.StringFlag{Name: "cwd", Usage: "Working directory for the process."},
				},
				Action: func(cctx *cli.Context) error {
					if cctx.NArg() == 0 {
						return errors.New("no command given")
					}
					req := proxy.SpawnRequest{
						Command: cctx.Args().First(),
						Args:    cctx.Args().Tail(),
						Env:     cctx.StringSlice("env"),
						WD:      cctx.String("cwd"),
					}
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						return runProcess(ctx, c, func(conn *proxy.Conn, cb func(*proxy.Process, error)) { conn.Spawn(req, cb) })
					})
				},
			},
			{
				Name:      "exec",
				Usage:     "run a command line through the remote shell",
				ArgsUsage: "COMMAND_LINE",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "env", Usage: "Environment variables (KEY=VALUE) for the process."},
					&cli.StringFlag{Name: "cwd", Usage: "Working directory for the process."},
				},
				Action: func(cctx *cli.Context) error {
					if cctx.NArg() == 0 {
						return errors.New("no command given")
					}
					req := proxy.ExecRequest{
						Command: strings.Join(cctx.Args().Slice(), " "),
						Env:     cctx.StringSlice("env"),
						WD:      cctx.String("cwd"),
					}
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						return runProcess(ctx, c, func(conn *proxy.Conn, cb func(*proxy.Process, error)) { conn.Exec(req, cb) })
					})
				},
			},
			{
				Name:      "cat",
				Usage:     "copy a remote file to stdout",
				ArgsUsage: "PATH",
				Action: func(cctx *cli.Context) error {
					path := cctx.Args().First()
					if path == "" {
						return errors.New("no path given")
					}
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						return catFile(ctx, c, path)
					})
				},
			},
			{
				Name:      "put",
				Usage:     "copy stdin to a remote file",
				ArgsUsage: "PATH",
				Action: func(cctx *cli.Context) error {
					path := cctx.Args().First()
					if path == "" {
						return errors.New("no path given")
					}
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						return putFile(ctx, c, path)
					})
				},
			},
			{
				Name:      "watch",
				Usage:     "print changes to a remote path until interrupted",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Usage: "Watch subdirectories too."},
				},
				Action: func(cctx *cli.Context) error {
					path := cctx.Args().First()
					if path == "" {
						return errors.New("no path given")
					}
					opts := proxy.WatchOptions{Recursive: cctx.Bool("recursive")}
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						return watch(ctx, c, path, opts)
					})
				},
			},
			{
				Name:  "ping",
				Usage: "check that the remote endpoint answers",
				Action: func(cctx *cli.Context) error {
					return withClient(cctx, func(ctx context.Context, c *wire.Client) error {
						start := time.Now()
						err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) { conn.Ping(done) })
						if err != nil {
							return fmt.Errorf("pinging: %w", err)
						}
						fmt.Printf("pong in %s\n", time.Since(start))
						return nil
					})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.WithOptions(zap.IncreaseLevel(lvl)), nil
}

func withClient(cctx *cli.Context, f func(ctx context.Context, c *wire.Client) error) error {
	logger, err := newLogger(cctx.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	var codec wire.Codec
	switch cctx.String("codec") {
	case "json":
		codec = wire.JSON
	case "cbor":
		codec = wire.CBOR
	default:
		return fmt.Errorf("unsupported codec %q", cctx.String("codec"))
	}

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGTERM)
	defer stop()

	addr := strings.TrimSuffix(cctx.String("addr"), "/")
	opts := []wire.Option{
		wire.WithLogger(logger),
		wire.WithCodec(codec),
		wire.WithProxyOptions(proxy.WithFaultHandler(func(err error) {
			logger.Sugar().Warnf("remote sent a bad notification: %s", err)
		})),
	}
	if wait := cctx.Duration("wait"); wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		err := wire.WaitForServer(waitCtx, addr, opts...)
		cancel()
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", addr, err)
		}
	}

	c, err := wire.Dial(ctx, addr+wire.RPCPath, opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer c.Close()
	return f(ctx, c)
}

// runProcess starts a process with start, pumps the local standard streams to and from it,
// forwards interrupts as signals and exits with the process's exit code.
func runProcess(ctx context.Context, c *wire.Client, start func(*proxy.Conn, func(*proxy.Process, error))) error {
	exitCh := make(chan proxy.Exit, 1)
	disconnected := make(chan error, 1)
	var proc *proxy.Process
	err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
		conn.OnDisconnect(func(err error) { disconnected <- err })
		start(conn, func(p *proxy.Process, err error) {
			if err != nil {
				done(err)
				return
			}
			proc = p
			p.Stdout.OnData(func(b []byte) { os.Stdout.Write(b) })
			p.Stderr.OnData(func(b []byte) { os.Stderr.Write(b) })
			p.OnExit(func(e proxy.Exit) { exitCh <- e })
			done(nil)
		})
	})
	if err != nil {
		return fmt.Errorf("starting process: %w", err)
	}

	// stdin is not waited on, a blocked read must not hold up the exit
	go pumpStdin(c, proc.Stdin)

	var exit proxy.Exit
	exited := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case exit = <-exitCh:
			close(exited)
			return nil
		case err := <-disconnected:
			return fmt.Errorf("connection lost: %w", err)
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				c.Do(func(*proxy.Conn) { proc.Kill("SIGINT") })
			case <-exited:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if exit.Code == nil {
		return cli.Exit(fmt.Sprintf("process terminated by %s", exit.Signal), 1)
	}
	if *exit.Code != 0 {
		return cli.Exit("", *exit.Code)
	}
	return nil
}

func pumpStdin(c *wire.Client, stdin *proxy.Stream) {
	buf := make([]byte, 32*1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.Do(func(*proxy.Conn) { _, _ = stdin.Write(chunk) })
		}
		if err != nil {
			c.Do(func(*proxy.Conn) { _ = stdin.End(nil) })
			return
		}
	}
}

func catFile(ctx context.Context, c *wire.Client, path string) error {
	// end, close and disconnect may all fire
	done := make(chan error, 3)
	err := c.Await(ctx, func(conn *proxy.Conn, opened func(error)) {
		conn.OnDisconnect(func(err error) { done <- err })
		conn.ReadStream(path, func(s *proxy.Stream, err error) {
			if err != nil {
				opened(err)
				return
			}
			s.OnData(func(b []byte) { os.Stdout.Write(b) })
			s.OnEnd(func() { done <- nil })
			s.OnClose(func() { done <- nil })
			opened(nil)
		})
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func putFile(ctx context.Context, c *wire.Client, path string) error {
	var stream *proxy.Stream
	err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
		conn.WriteStream(path, func(s *proxy.Stream, err error) {
			stream = s
			done(err)
		})
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			c.Do(func(*proxy.Conn) { _, _ = stream.Write(chunk) })
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.Do(func(*proxy.Conn) { _ = stream.Destroy() })
			return fmt.Errorf("reading stdin: %w", err)
		}
	}
	// the ping is answered after everything written before it
	return c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
		if err := stream.End(nil); err != nil {
			done(err)
			return
		}
		conn.Ping(done)
	})
}

func watch(ctx context.Context, c *wire.Client, path string, opts proxy.WatchOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	disconnected := make(chan error, 1)
	var w *proxy.Watcher
	err := c.Await(ctx, func(conn *proxy.Conn, done func(error)) {
		conn.OnDisconnect(func(err error) { disconnected <- err })
		conn.Watch(path, opts, func(got *proxy.Watcher, err error) {
			if err != nil {
				done(err)
				return
			}
			w = got
			w.OnChange(func(ch proxy.Change) { fmt.Printf("%s\t%s\n", ch.Event, ch.Filename) })
			done(nil)
		})
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	select {
	case err := <-disconnected:
		return fmt.Errorf("connection lost: %w", err)
	case <-ctx.Done():
	}
	return c.Await(context.Background(), func(conn *proxy.Conn, done func(error)) {
		w.Close()
		conn.Ping(done)
	})
}
