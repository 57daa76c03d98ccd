package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli"

	"github.com/hbsig/horstbeacon"
	"github.com/hbsig/horstbeacon/internal/transport"
)

func heartbeatAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return "", err
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", p+1)), nil
}

func cmdSender(c *cli.Context) error {
	cfg, err := horstbeacon.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	ctx, err := horstbeacon.NewContext(cfg.Params())
	if err != nil {
		return err
	}

	seed := horstbeacon.SeedFromU64(uint64(c.Int64("seed")))
	signer, err := horstbeacon.NewBlockSigner(ctx, cfg.StatePath, seed)
	if err != nil {
		return err
	}
	defer signer.Close()

	udp, err := transport.NewUDPSender(cfg.Addr, cfg.DatagramMTU())
	if err != nil {
		return err
	}

	var running atomic.Bool
	running.Store(true)

	if hbAddr, err := heartbeatAddr(cfg.Addr); err == nil {
		if laddr, err := net.ResolveUDPAddr("udp", hbAddr); err == nil {
			if conn, err := net.ListenUDP("udp", laddr); err == nil {
				registry := transport.NewSubscriberRegistry(cfg.SubscriberLifetime())
				go transport.ListenHeartbeats(conn, registry, &running)
				defer conn.Close()
			}
		}
	}

	sender := horstbeacon.NewSender(signer, udp)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		running.Store(false)
		sender.Stop()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := sender.Broadcast([]byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "horstbeacon: broadcast failed: %v\n", err)
		}
	}
	return scanner.Err()
}

func cmdReceiver(c *cli.Context) error {
	cfg, err := horstbeacon.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	ctx, err := horstbeacon.NewContext(cfg.Params())
	if err != nil {
		return err
	}

	graph := horstbeacon.NewTrustGraph()
	petname := cfg.Petname
	if petname == "" {
		petname = "sender"
	}
	verifier := horstbeacon.NewBlockVerifier(ctx, graph, petname)

	udp, err := transport.NewUDPReceiver(cfg.Addr, cfg.DatagramMTU())
	if err != nil {
		return err
	}

	var running atomic.Bool
	running.Store(true)

	queue := horstbeacon.NewDeliveryQueue()
	receiver := horstbeacon.NewReceiver(verifier, udp, queue)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		running.Store(false)
		receiver.Stop()
		udp.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- receiver.Run() }()

	for running.Load() {
		result, ok := queue.Dequeue()
		if !ok {
			continue
		}
		fmt.Println(horstbeacon.FormatVerdictLine(*result))
	}
	return <-done
}

func main() {
	app := cli.NewApp()
	app.Name = "horstbeacon"
	app.Usage = "broadcast and verify HORST-signed data blocks"

	configFlag := cli.StringFlag{Name: "config", Usage: "path to a TOML config file", Required: true}

	app.Commands = []cli.Command{
		{
			Name:  "sender",
			Usage: "sign and broadcast newline-delimited stdin payloads",
			Flags: []cli.Flag{
				configFlag,
				cli.Int64Flag{Name: "seed", Usage: "seed for the key-generation CSPRNG", Value: 42},
			},
			Action: cmdSender,
		},
		{
			Name:  "receiver",
			Usage: "receive signed blocks and print verdict lines to stdout",
			Flags: []cli.Flag{configFlag},
			Action: cmdReceiver,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "horstbeacon: %v\n", err)
		os.Exit(1)
	}
}
