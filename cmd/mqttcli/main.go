// Command mqttcli is the reference client driver from SPEC_FULL.md
// §4.8: after the CONNECT/CONNACK handshake it either subscribes to
// "test" and prints inbound PUBLISH frames, or runs a publish loop at
// a fixed period for a fixed duration. A listener goroutine drains
// inbound traffic and a second goroutine emits PINGREQ on a schedule
// to keep the session alive, mirroring the teacher's beacon-sim
// structure (flag-parsed CLI, signal.NotifyContext, ticker loop).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mqttd/internal/mqttclient"
	"mqttd/internal/packet"
)

const subscribeTopic = "test"

func main() {
	brokerAddr := flag.String("broker", "127.0.0.1:1883", "broker TCP address")
	clientID := flag.String("client-id", fmt.Sprintf("mqttcli-%d", os.Getpid()), "MQTT client identifier")
	keepAlive := flag.Uint("keep-alive", 60, "negotiated keep-alive in seconds")
	pingPeriod := flag.Duration("ping-period", 20*time.Second, "interval between PINGREQ packets")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mqttcli sub | mqttcli pub <payload_size> <duration_seconds> <period_seconds>")
		os.Exit(2)
	}

	var payloadSize, durationSeconds, periodSeconds int
	switch args[0] {
	case "sub":
	case "pub":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: mqttcli pub <payload_size> <duration_seconds> <period_seconds>")
			os.Exit(2)
		}
		var err error
		if payloadSize, err = strconv.Atoi(args[1]); err != nil {
			logger.Error("invalid payload_size", "error", err)
			os.Exit(2)
		}
		if durationSeconds, err = strconv.Atoi(args[2]); err != nil {
			logger.Error("invalid duration_seconds", "error", err)
			os.Exit(2)
		}
		if periodSeconds, err = strconv.Atoi(args[3]); err != nil {
			logger.Error("invalid period_seconds", "error", err)
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: mqttcli sub | mqttcli pub <payload_size> <duration_seconds> <period_seconds>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mqttclient.Dial(ctx, *brokerAddr, *clientID, uint16(*keepAlive))
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.KeepAlive(gctx, *pingPeriod)
	})

	switch args[0] {
	case "sub":
		g.Go(func() error { return runSub(gctx, client, logger) })
	case "pub":
		g.Go(func() error {
			return runPub(gctx, client, logger, payloadSize, durationSeconds, periodSeconds)
		})
	}

	g.Go(func() error {
		return client.Listen(gctx, func(p *packet.Publish) {
			logger.Info("received PUBLISH", "topic", p.TopicName, "bytes", len(p.Payload))
		})
	})

	runErr := g.Wait()

	if err := client.Disconnect(packet.DisconnectNormal); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}

	if runErr != nil {
		logger.Error("client stopped with error", "error", runErr)
		os.Exit(1)
	}
}

func runSub(ctx context.Context, client *mqttclient.Client, logger *slog.Logger) error {
	suback, err := client.Subscribe(1, subscribeTopic, 0)
	if err != nil {
		return err
	}
	logger.Info("subscribed", "topic", subscribeTopic, "return_codes", suback.ReturnCodes)
	<-ctx.Done()
	return nil
}

func runPub(ctx context.Context, client *mqttclient.Client, logger *slog.Logger, payloadSize, durationSeconds, periodSeconds int) error {
	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	ticker := time.NewTicker(time.Duration(periodSeconds) * time.Second)
	defer ticker.Stop()

	deadline := time.After(time.Duration(durationSeconds) * time.Second)

	var messageID uint16 = 1
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			if err := client.Publish(subscribeTopic, payload, 1, messageID); err != nil {
				return err
			}
			logger.Info("published", "topic", subscribeTopic, "message_id", messageID, "bytes", len(payload))
			messageID++
		}
	}
}
