// Command solaudit is the operator-auditing bot's entrypoint: it loads a
// YAML config, connects to one Solanum network as a privileged operator,
// and wires the snote parser, search/store layer, command dispatcher, and
// minutely sampler together.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"git.sr.ht/~kline/solaudit/internal/command"
	"git.sr.ht/~kline/solaudit/internal/config"
	"git.sr.ht/~kline/solaudit/internal/dnsresolve"
	"git.sr.ht/~kline/solaudit/internal/sampler"
	"git.sr.ht/~kline/solaudit/internal/services"
	"git.sr.ht/~kline/solaudit/internal/snote"
	"git.sr.ht/~kline/solaudit/internal/store"
	"git.sr.ht/~kline/solaudit/irc"
)

type options struct {
	Config   string `short:"c" long:"config" description:"path to the YAML config file" value-name:"path" required:"true"`
	Migrate  bool   `long:"migrate" description:"apply the database schema and exit"`
	EvalOnly string `long:"eval-only" description:"run a read-only query against the store and print it, instead of connecting to IRC" value-name:"query"`
	Help     bool   `long:"help" description:"show this help"`
}

// initLogger reads LOG_LEVEL to select the level, defaulting to info,
// written as structured text to stderr.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func parseOptions(args []string) *options {
	var opts options
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[option...]"
	_, err := parser.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	return &opts
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseOptions(os.Args[1:])
	log := initLogger()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Error("config load failed", "err", err)
		return 1
	}
	if err := cfg.FillSecrets(os.Stdin, os.Stderr); err != nil {
		log.Error("config secret prompt failed", "err", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Error("store open failed", "err", err)
		return 1
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Error("store migrate failed", "err", err)
		return 1
	}

	if opts.Migrate {
		log.Info("migration complete")
		return 0
	}

	if opts.EvalOnly != "" {
		return runEvalOnly(ctx, st, opts.EvalOnly)
	}

	return runBot(ctx, cfg, st, log)
}

func runEvalOnly(ctx context.Context, st *store.Store, query string) int {
	cols, rows, err := st.Eval(ctx, query)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(strings.Join(cols, "\t"))
	for _, row := range rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	return 0
}

// runBot drives the reconnection supervisor: it dials, registers,
// opers-up, and runs the session until it drops or ctx is cancelled, then
// backs off and redials.
func runBot(ctx context.Context, cfg *config.Config, st *store.Store, log *slog.Logger) int {
	dnsServer := cfg.DNSServer
	if dnsServer == "" {
		dnsServer = config.DefaultDNSServer
	}
	resolver := dnsresolve.NewResolver(dnsServer, 5, 10)

	dispatcher := command.New(st, log)
	nickServ := services.NewNickServ(st, log, resolver)
	operServ := services.NewOperServ(st, log)

	backoff := time.Second
	const maxBackoff = 2 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return 0
		default:
		}

		err := runSession(ctx, cfg, st, log, dispatcher, nickServ, operServ)
		if ctx.Err() != nil {
			return 0
		}
		if err != nil {
			log.Warn("session ended, reconnecting", "err", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runSession owns one connection's lifetime: dial, register, oper-up, and
// pump events until the connection drops or ctx is cancelled.
func runSession(ctx context.Context, cfg *config.Config, st *store.Store, log *slog.Logger, dispatcher *command.Dispatcher, nickServ *services.NickServ, operServ *services.OperServ) error {
	host, _, err := net.SplitHostPort(cfg.Server)
	if err != nil {
		host = cfg.Server
	}

	rawConn, err := irc.Dial(ctx, cfg.Server, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	var auth irc.SASLClient
	if cfg.SASL.Username != "" {
		auth = &irc.SASLPlain{Username: cfg.SASL.Username, Password: cfg.SASL.Password}
	}

	conn := irc.NewConn(rawConn, irc.SessionParams{
		Nickname: cfg.Nickname,
		Username: cfg.Nickname,
		RealName: cfg.Realname,
		Auth:     auth,
		Logger:   log,
	})

	parser := snote.New(st, log, cfg.RejectCap, klineNotifier(conn, st, cfg, log), conn.Links, conn.MaskTrace)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	operUp := false
	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case ev, ok := <-conn.Events():
			if !ok {
				return <-runErr
			}
			switch e := ev.(type) {
			case irc.RegisteredEvent:
				conn.Deafen()
				for _, ch := range cfg.Channels {
					conn.Join(ch)
				}
				if cfg.LogChannel != "" {
					conn.Join(cfg.LogChannel)
				}
				go operUpAsync(ctx, conn, cfg, log)

			case irc.OperUpEvent:
				if operUp {
					continue
				}
				operUp = true
				conn.EnableSnotes()

				reconciliator := sampler.NewReconciliator(conn, st, log)
				if err := reconciliator.Reconcile(ctx); err != nil {
					log.Warn("reconcile failed", "err", err)
				}

				smp := sampler.New(conn, st, log)
				go func() {
					if err := smp.Run(samplerCtx); err != nil && samplerCtx.Err() == nil {
						log.Warn("sampler stopped", "err", err)
					}
				}()

			case irc.SnoteEvent:
				if err := parser.Handle(ctx, e.Server, e.Text, e.Time); err != nil {
					log.Warn("snote handling failed", "err", err)
				}

			case irc.ServiceMessageEvent:
				handleServiceMessage(ctx, nickServ, operServ, e, log)

			case irc.CommandEvent:
				text := e.Text
				target := e.Nick
				if e.IsChannel {
					// In a channel the bot only answers when highlighted:
					// "botnick: kcheck ..." or "botnick, kcheck ...".
					first, rest, _ := strings.Cut(text, " ")
					if !isHighlight(first, conn.Nick()) || rest == "" {
						continue
					}
					text = rest
					target = e.Target
				}
				for _, line := range dispatcher.Dispatch(ctx, commandOperIdentity(e), e.HasOperTag, text) {
					conn.Notice(target, line)
				}

			case irc.ErrorEvent:
				log.Warn("server error reply", "severity", e.Severity, "code", e.Code, "message", e.Message)
			}
		}
	}
}

// commandOperIdentity picks the identity string attached to a command's
// log lines and preference lookups: the connecting nick, since the
// oper-identity message tag itself carries no parseable account name.
func commandOperIdentity(e irc.CommandEvent) string {
	return e.Nick
}

// isHighlight reports whether token addresses nick, with an optional ':'
// or ',' suffix, under RFC1459 comparison.
func isHighlight(token, nick string) bool {
	token = strings.TrimRight(token, ":,")
	return irc.CasemapRFC1459(token) == irc.CasemapRFC1459(nick)
}

// klineNotifier is the klineadd callback: it announces every new k-line to
// the log channel and, when the reason carried no %tag tokens, nags the
// setting oper if their knag preference asks for it.
func klineNotifier(conn *irc.Conn, st *store.Store, cfg *config.Config, log *slog.Logger) func(context.Context, int64) {
	return func(ctx context.Context, id int64) {
		k, ok, err := st.GetKLine(ctx, id)
		if err != nil || !ok {
			log.Warn("kline notify: load failed", "kline_id", id, "err", err)
			return
		}
		if cfg.LogChannel != "" {
			conn.Notice(cfg.LogChannel, fmt.Sprintf("k-line #%d %s by %s{%s}: %s", k.ID, k.Mask, k.Source, k.Oper, k.Reason))
		}

		if len(services.ExtractTags(k.Reason)) > 0 {
			return
		}
		raw, set, err := st.GetPreference(ctx, k.Oper, "knag")
		if err != nil || !set || raw != "true" {
			return
		}
		nick := k.Source
		if i := strings.IndexByte(nick, '!'); i >= 0 {
			nick = nick[:i]
		}
		conn.Notice(nick, fmt.Sprintf("k-line #%d %s has no tags; add one with: ktag %d <tag>", k.ID, k.Mask, k.ID))
	}
}

func handleServiceMessage(ctx context.Context, nickServ *services.NickServ, operServ *services.OperServ, e irc.ServiceMessageEvent, log *slog.Logger) {
	now := time.Now()
	switch strings.ToLower(e.From) {
	case "nickserv":
		if err := nickServ.Handle(ctx, e.Text, now); err != nil {
			log.Warn("nickserv handling failed", "err", err)
		}
	case "operserv":
		if err := operServ.Handle(ctx, e.Text, now); err != nil {
			log.Warn("operserv handling failed", "err", err)
		}
	}
}

// operUpAsync performs oper-up off the event loop: CHALLENGE when a key
// file is configured, otherwise a plain OPER password.
func operUpAsync(ctx context.Context, conn *irc.Conn, cfg *config.Config, log *slog.Logger) {
	var err error
	if cfg.Oper.ChallengeKey != "" {
		err = conn.Oper(ctx, cfg.Oper.Name, irc.StaticChallenge{Response: cfg.Oper.Password})
	} else {
		err = conn.OperPlain(ctx, cfg.Oper.Name, cfg.Oper.Password)
	}
	if err != nil {
		log.Error("oper-up failed", "err", err)
	}
}
