package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pelocaramelo/messaging/api"
	"github.com/pelocaramelo/messaging/auth"
	"github.com/pelocaramelo/messaging/conv"
	"github.com/pelocaramelo/messaging/model"
	"github.com/pelocaramelo/messaging/unread"
	"github.com/pelocaramelo/messaging/ws"
)

var (
	flagAPIURL = flag.String("api-url", "http://127.0.0.1:8088", "message API base url")
	flagWSURL  = flag.String("ws-url", "ws://127.0.0.1:8088/ws", "push channel url")
	flagToken  = flag.String("token", "", "bearer token of the signed-in user")

	flagConversation = flag.String("conversation", "", "reservation conversation id to open")
	flagStatus       = flag.String("reservation-status", model.ReservationAccepted, "current reservation status")

	flagPollInterval = flag.Duration("poll-interval", conv.DefaultPollInterval, "fallback poll interval")
	flagUnreadDB     = flag.String("unread-db", "", "path to the unread notification db, empty disables persistence")

	flagMetricsAddr = flag.String("metrics-addr", "", "prometheus listen address, empty disables metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	identity, err := auth.FromToken(*flagToken)
	if err != nil {
		return errorf("--token: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := api.New(*flagAPIURL, identity)
	defer apiClient.Close()

	coordinator := ws.NewCoordinator(*flagWSURL, identity)
	go coordinator.Run(ctx)

	bus := unread.NewBus(identity.UserID())
	if *flagUnreadDB != "" {
		if err := bus.WithStore(*flagUnreadDB); err != nil {
			return errorf("--unread-db: %v", err)
		}
	}
	defer bus.Close()

	if *flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics listener error: %v", err)
			}
		}()
	}

	// Seed the unread set for this session; signals refresh it afterwards.
	go func() {
		ids, err := apiClient.Unread(ctx)
		if err != nil {
			glog.Warningf("initial unread query error: %v", err)
			return
		}
		bus.Publish(ids)
	}()

	signals := make(chan conv.Signal, 32)
	c := conv.Open(ctx, conv.Config{
		ConversationID: *flagConversation,
		Identity:       identity,
		API:            apiClient,
		Transport:      coordinator,
		Bus:            bus,
		Permission:     model.PermissionFor(*flagStatus),
		PollInterval:   *flagPollInterval,
		Signals:        signals,
	})
	defer c.Close()

	unreadCh, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	fmt.Printf("conversation %s as %s (status: %s)\n", *flagConversation, identity.UserID(), *flagStatus)
	fmt.Printf("type to send; /hide /show toggle visibility, /quit exits\n")

	go readInput(ctx, c, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case <-ctx.Done():
			glog.Info("client exited")
			return 0
		case sig := <-sigCh:
			glog.Infof("received signal `%s`, stopping", sig.String())
			cancel()
		case ids := <-unreadCh:
			if len(ids) > 0 {
				fmt.Printf("* unread conversations: %s\n", strings.Join(ids, ", "))
			}
		case s := <-signals:
			render(c, identity.UserID(), s)
		}
	}
}

// render prints one line per view signal; the terminal stands in for the
// hosting view.
func render(c *conv.Conversation, self string, s conv.Signal) {
	switch s.Kind {
	case conv.SignalLoaded:
		for _, m := range c.Snapshot() {
			printMessage(self, m)
		}
	case conv.SignalLoadFailed:
		fmt.Printf("! could not load messages: %v\n", s.Err)
	case conv.SignalNewMessage:
		if m, ok := lastMessage(c); ok {
			printMessage(self, m)
		}
	case conv.SignalScrollTo:
		fmt.Printf("* (conversation scrolled into view)\n")
	case conv.SignalNewWhileAway:
		fmt.Printf("* new messages while away, /show to read\n")
	}
}

func lastMessage(c *conv.Conversation) (model.Message, bool) {
	msgs := c.Snapshot()
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func printMessage(self string, m model.Message) {
	who := m.SenderID
	status := ""
	if m.SenderID == self {
		who = "me"
		status = fmt.Sprintf(" [%s]", m.EffectiveStatus())
	}
	fmt.Printf("%s %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, m.Body, status)
}

func readInput(ctx context.Context, c *conv.Conversation, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			cancel()
			return
		case "/hide":
			c.SetTabVisible(false)
			fmt.Println("* tab hidden, incoming messages stay unread")
			continue
		case "/show":
			c.SetTabVisible(true)
			fmt.Println("* tab visible")
			continue
		}

		sendCtx, sendCancel := context.WithTimeout(ctx, 15*time.Second)
		err := c.Send(sendCtx, line)
		sendCancel()
		if err != nil {
			fmt.Printf("! send failed: %v\n", err)
		}
	}
	cancel()
}

func validateFlags() int {
	if *flagToken == "" {
		return errorf("--token is required")
	}
	if *flagConversation == "" {
		return errorf("--conversation is required")
	}
	if *flagAPIURL == "" || !strings.HasPrefix(*flagAPIURL, "http") {
		return errorf("--api-url: expect http(s) url, got `%s`", *flagAPIURL)
	}
	if *flagWSURL == "" || !strings.HasPrefix(*flagWSURL, "ws") {
		return errorf("--ws-url: expect ws(s) url, got `%s`", *flagWSURL)
	}
	if *flagPollInterval < time.Second {
		return errorf("--poll-interval MUST be at least 1s")
	}
	if model.PermissionFor(*flagStatus) == model.PermClosed {
		glog.Warningf("reservation status `%s` does not allow messaging, opening history only", *flagStatus)
	}
	return 0
}

func errorf(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 2
}
