package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/config"
	"github.com/KendoTarakate/skin/client"
	"github.com/KendoTarakate/skin/history"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/transport"
)

// participantFlags identify the local participant.
func participantFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		ServerFlag,
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name", EnvVars: []string{"SKINSYNC_NAME"}},
		&cli.StringFlag{Name: "participant", Usage: "Participant UUID (default: random)"},
		&cli.StringFlag{Name: "history", Usage: "History file (default " + history.DefaultFile + ")"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress log output"},
	}
}

// PushCommand returns the push command, which uploads a skin image.
func PushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Upload a skin image to the session server",
		ArgsUsage: "<skin.png>",
		Flags: append(participantFlags(),
			&cli.BoolFlag{Name: "slim", Usage: "Use the slim model variant"},
			&cli.IntFlag{Name: "max-dimension", Usage: "Largest side to upload"},
			&cli.IntFlag{Name: "max-bytes", Usage: "Encoded size budget"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Stay connected and receive other skins until interrupted"},
		),
		Action: pushAction,
	}
}

func pushAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("push requires exactly one skin file", exitUsage)
	}
	file := c.Args().First()

	sess, err := openSession(c, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.close()

	slim := c.Bool("slim")
	if !c.IsSet("slim") && sess.history != nil {
		slim = sess.history.SlimPreference()
	}
	if err := sess.client.ApplyFile(sess.ctx, file, slim); err != nil {
		return cli.Exit(fmt.Sprintf("apply %s: %v", file, err), exitFailure)
	}
	sess.client.Flush()

	if c.Bool("wait") {
		sess.wait()
	}
	return nil
}

// ResetCommand returns the reset command, which removes the participant's
// skin for everyone.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Remove your skin from the session",
		Flags: participantFlags(),
		Action: func(c *cli.Context) error {
			sess, err := openSession(c, sessionOptions{requireID: true})
			if err != nil {
				return err
			}
			defer sess.close()
			if err := sess.client.ResetSkin(sess.ctx); err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			return nil
		},
	}
}

// JoinCommand returns the join command. It connects, re-applies the most
// recent skin from history and stays connected until interrupted.
func JoinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "Join the session with your last skin and receive everyone else's",
		Flags: participantFlags(),
		Action: func(c *cli.Context) error {
			sess, err := openSession(c, sessionOptions{recall: true})
			if err != nil {
				return err
			}
			defer sess.close()
			sess.wait()
			return nil
		},
	}
}

type sessionOptions struct {
	// recall re-applies the last history entry on connect.
	recall bool
	// requireID rejects a random participant id.
	requireID bool
}

// recordOnly hides history.Store's Recall so Connect does not re-apply.
type recordOnly struct{ h *history.Store }

func (r recordOnly) Record(file string, payload []byte, slim bool) { r.h.Record(file, payload, slim) }

// clientSession is a connected client plus the resources it owns.
type clientSession struct {
	ctx     context.Context
	stop    context.CancelFunc
	client  *client.Client
	history *history.Store
	logger  *log.Logger
	metrics *metrics.Collector
}

func openSession(c *cli.Context, opts sessionOptions) (*clientSession, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ccfg, err := clientConfig(c, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	if opts.requireID && ccfg.Participant == uuid.Nil {
		return nil, cli.Exit("a participant id is required (--participant or client.participant)", exitUsage)
	}
	if ccfg.Participant == uuid.Nil {
		ccfg.Participant = uuid.New()
	}
	wsURL, _, err := endpoints(serverAddr(c, cfg))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	logger := log.Nop()
	if !c.Bool("quiet") {
		logger = log.NewLogger(log.NodeMeta{
			NodeID: ccfg.Participant.String(),
			Role:   log.RoleClient,
			Name:   ccfg.Name,
		})
	}
	m := metrics.NewCollector(string(log.RoleClient), "", ccfg.Participant.String())

	historyPath := c.String("history")
	if historyPath == "" {
		historyPath = cfg.Client.HistoryPath
	}
	if historyPath == "" {
		historyPath = history.DefaultFile
	}
	hist, err := history.Open(historyPath, logger)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open history: %v", err), exitFailure)
	}

	ccfg.Logger = logger
	ccfg.Metrics = m
	ccfg.History = recordOnly{hist}
	if opts.recall {
		ccfg.History = hist
	}
	cl := client.New(ccfg)

	ctx, stop := signalContext(c.Context)
	conn, err := transport.Dial(ctx, wsURL, nil)
	if err != nil {
		stop()
		return nil, cli.Exit(fmt.Sprintf("connect %s: %v", wsURL, err), exitFailure)
	}
	if err := cl.Connect(ctx, conn); err != nil {
		stop()
		_ = conn.Close()
		return nil, cli.Exit(err.Error(), exitFailure)
	}

	return &clientSession{
		ctx:     ctx,
		stop:    stop,
		client:  cl,
		history: hist,
		logger:  logger,
		metrics: m,
	}, nil
}

// wait blocks until interrupted or the server closes the connection.
func (s *clientSession) wait() {
	select {
	case <-s.ctx.Done():
	case <-s.client.Done():
		if err := s.client.Err(); err != nil {
			s.logger.Warn("connection ended", map[string]any{"error": err.Error()})
		}
	}
	snap := s.metrics.Snapshot()
	s.logger.Sugar().Infof("received %d skins, %d live", snap.TransfersCompleted, s.client.Table().Len())
}

func (s *clientSession) close() {
	_ = s.client.Close()
	s.stop()
	_ = s.logger.Sync()
}

// clientConfig resolves identity and encoding limits from flags and config.
// Participant stays uuid.Nil when neither names one.
func clientConfig(c *cli.Context, cfg *config.Config) (client.Config, error) {
	out := client.Config{
		Name:         cfg.Client.Name,
		MaxDimension: cfg.Client.MaxDimension,
		MaxBytes:     cfg.Client.MaxBytes,
	}
	if c.IsSet("name") {
		out.Name = c.String("name")
	}
	if c.IsSet("max-dimension") {
		out.MaxDimension = c.Int("max-dimension")
	}
	if c.IsSet("max-bytes") {
		out.MaxBytes = c.Int("max-bytes")
	}

	id := cfg.Client.Participant
	if c.IsSet("participant") {
		id = c.String("participant")
	}
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return client.Config{}, fmt.Errorf("invalid participant %q: %w", id, err)
		}
		out.Participant = parsed
	}
	return out, nil
}
