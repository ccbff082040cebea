// bridgectl is the operator CLI: it sends control commands to a running
// bridge and waits for the ack, or tails the bar topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/config"
	"github.com/equipadv/barbridge/internal/model"
)

func main() {
	var (
		redisAddr = flag.String("redis", config.DefaultRedisAddr, "redis address")
		channel   = flag.String("channel", config.DefaultControlChannel, "command channel")
		ackPrefix = flag.String("ack-prefix", config.DefaultAckPrefix, "ack channel prefix")
		topic     = flag.String("topic", config.DefaultBarTopic, "bar topic (for -listen)")
		listen    = flag.Bool("listen", false, "tail the bar topic instead of sending a command")

		action   = flag.String("action", "", "subscribe | status | unsubscribe")
		strategy = flag.String("strategy", "", "strategy id")
		codes    = flag.String("codes", "", "comma-separated instrument codes")
		periods  = flag.String("periods", "", "comma-separated periods (1m,1h,1d)")
		mode     = flag.String("mode", "", "close_only | forming_and_close")
		preload  = flag.Int("preload", 0, "preload days")
		subID    = flag.String("sub", "", "sub id (for unsubscribe)")
		timeout  = flag.Duration("timeout", 5*time.Second, "ack wait timeout")
	)
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal("connect redis %s: %v", *redisAddr, err)
	}

	if *listen {
		tail(ctx, rdb, *topic)
		return
	}

	if *action == "" || *strategy == "" {
		fatal("-action and -strategy are required (or use -listen)")
	}

	cmd := model.ControlCommand{
		Action:      model.Action(*action),
		StrategyID:  *strategy,
		Mode:        *mode,
		PreloadDays: *preload,
		SubID:       *subID,
	}
	if *codes != "" {
		cmd.Codes = strings.Split(*codes, ",")
	}
	if *periods != "" {
		cmd.Periods = strings.Split(*periods, ",")
	}

	ack, err := send(ctx, rdb, *channel, *ackPrefix, cmd, *timeout)
	if err != nil {
		fatal("%v", err)
	}

	out, _ := json.MarshalIndent(ack, "", "  ")
	fmt.Println(string(out))
	if !ack.OK {
		os.Exit(1)
	}
}

// send publishes one command and waits on the strategy's ack channel.
// The ack subscription is opened before the command goes out so the
// reply cannot be missed.
func send(ctx context.Context, rdb *redis.Client, channel, ackPrefix string, cmd model.ControlCommand, timeout time.Duration) (model.AckMessage, error) {
	ackChannel := ackPrefix + ":" + cmd.StrategyID
	ps := rdb.Subscribe(ctx, ackChannel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return model.AckMessage{}, fmt.Errorf("subscribe %s: %w", ackChannel, err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return model.AckMessage{}, fmt.Errorf("encode command: %w", err)
	}
	if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return model.AckMessage{}, fmt.Errorf("publish command: %w", err)
	}

	deadline := time.After(timeout)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return model.AckMessage{}, ctx.Err()
		case <-deadline:
			return model.AckMessage{}, fmt.Errorf("no ack on %s within %s", ackChannel, timeout)
		case msg, ok := <-ch:
			if !ok {
				return model.AckMessage{}, fmt.Errorf("ack channel closed")
			}
			var ack model.AckMessage
			if err := json.Unmarshal([]byte(msg.Payload), &ack); err != nil {
				continue
			}
			if ack.Action != cmd.Action {
				continue
			}
			return ack, nil
		}
	}
}

// tail prints every bar on the topic until interrupted.
func tail(ctx context.Context, rdb *redis.Client, topic string) {
	ps := rdb.Subscribe(ctx, topic)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		fatal("subscribe %s: %v", topic, err)
	}

	fmt.Fprintf(os.Stderr, "listening on %s (ctrl-c to stop)\n", topic)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Println(msg.Payload)
		}
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "bridgectl: "+format+"\n", args...)
	os.Exit(1)
}
