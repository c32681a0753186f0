package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/adapter/coachpresenter"
	corechess "github.com/park285/cheese-opening-coach/internal/chess"
	"github.com/park285/cheese-opening-coach/internal/coachbuilder"
	"github.com/park285/cheese-opening-coach/internal/domain"
	"github.com/park285/cheese-opening-coach/internal/obslog"
	"github.com/park285/cheese-opening-coach/internal/service/practice"
	"github.com/park285/cheese-opening-coach/pkg/coachdto"
)

const defaultHistoryLimit = 10

const helpText = `Enter a move in SAN (Nf3) or UCI (g1f3), or a command:
  status            position, moves and book hints
  eval              engine evaluation of the current position
  retry             ask the opponent again after an engine failure
  switch [opening]  continue in the opening the position transposed into
  reset             start the same opening again
  history [n]       recently finished games
  openings          list openings
  end               save the game and quit
  quit              leave without saving (the session stays resumable)`

func newPlayCmd() *cobra.Command {
	var (
		opts      practice.StartOptions
		sessionID string
		strength  string
		devProb   float64
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play an opening against the coach from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.OpeningID == "" && opts.PlayerColor == "" {
				opts.PlayerColor = cfg.PlayerColor
			}
			if strength != "" {
				elo, err := corechess.ParseElo(strength)
				if err != nil {
					return err
				}
				opts.Elo = elo
			}
			if cmd.Flags().Changed("deviation") {
				opts.DeviationProbability = &devProb
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := coachbuilder.New(ctx, cfg, obslog.L())
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(); err != nil {
					obslog.L().Warn("shutdown", zap.Error(err))
				}
			}()

			out := cmd.OutOrStdout()
			r := &repl{
				manager: deps.Manager,
				presenter: coachpresenter.NewPresenter(coachpresenter.NewFormatter(deps.Messages), func(message string) error {
					_, err := fmt.Fprintln(out, message)
					return err
				}),
				openings: coachpresenter.ToDTOOpenings(deps.Catalog.List()),
				opts:     opts,
			}
			if err := r.begin(ctx, sessionID); err != nil {
				return err
			}
			return r.run(ctx, cmd.InOrStdin(), out)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.OpeningID, "opening", "", "opening id (default DEFAULT_OPENING)")
	flags.StringVar(&opts.DefenseID, "defense", "", "defense id for specific-defense mode")
	flags.StringVar(&opts.Mode, "mode", "", "never-deviate, hybrid or specific-defense (default OPPONENT_MODE)")
	flags.StringVar(&opts.PlayerColor, "color", "", "white or black (default: the opening's side)")
	flags.StringVar(&strength, "elo", "", "engine Elo or level ("+strings.Join(corechess.LevelNames(), ", ")+"); default ENGINE_ELO")
	flags.Float64Var(&devProb, "deviation", 0, "hybrid deviation probability 0-1")
	flags.StringVar(&sessionID, "session", "", "resume a saved session by id")
	return cmd
}

type repl struct {
	manager   *practice.Manager
	presenter *coachpresenter.Presenter
	openings  []*coachdto.Opening
	opts      practice.StartOptions
	id        string
}

// begin resumes sessionID when given, otherwise starts a new game.
func (r *repl) begin(ctx context.Context, sessionID string) error {
	if sessionID != "" {
		st, err := r.manager.Status(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("resume %s: %w", sessionID, err)
		}
		r.id = sessionID
		return r.presenter.Status(coachpresenter.ToDTOState(sessionID, st))
	}
	res, err := r.manager.Start(ctx, r.opts)
	if err != nil {
		return err
	}
	r.id = res.ID
	if err := r.presenter.Send("Session " + res.ID); err != nil {
		return err
	}
	return r.presenter.Start(coachpresenter.ToDTOStart(res))
}

func (r *repl) run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		done, err := r.handle(ctx, scanner.Text())
		if err != nil {
			return err
		}
		if done || ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one input line. Service errors are shown to the player; only
// output failures are returned.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help", "?":
		return false, r.presenter.Send(helpText)
	case "quit", "exit":
		return true, r.presenter.Send("Session " + r.id + " saved for later.")
	case "status":
		st, err := r.manager.Status(ctx, r.id)
		if err != nil {
			return false, r.presenter.Error(err, "")
		}
		return false, r.presenter.Status(coachpresenter.ToDTOState(r.id, st))
	case "eval":
		cp, err := r.manager.Evaluate(ctx, r.id)
		if err != nil {
			return false, r.presenter.Error(err, "")
		}
		return false, r.presenter.Send(r.presenter.Formatter().Evaluation(cp))
	case "retry":
		res, err := r.manager.OpponentMove(ctx, r.id)
		return r.turn(res, err, "")
	case "switch":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		st, err := r.manager.SwitchOpening(ctx, r.id, target)
		if err != nil {
			return false, r.switchError(err, target)
		}
		return false, r.presenter.Status(coachpresenter.ToDTOState(r.id, st))
	case "reset":
		res, err := r.manager.Reset(ctx, r.id)
		if err != nil {
			return false, r.presenter.Error(err, "")
		}
		return false, r.presenter.Start(coachpresenter.ToDTOStart(res))
	case "history":
		limit := defaultHistoryLimit
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		games, err := r.manager.RecentGames(ctx, limit)
		if err != nil {
			return false, r.presenter.Error(err, "")
		}
		return false, r.presenter.Send(r.presenter.Formatter().History(coachpresenter.ToDTOGames(games)))
	case "openings":
		return false, r.presenter.Send(r.presenter.Formatter().Openings(r.openings))
	case "end":
		game, err := r.manager.End(ctx, r.id)
		if err != nil {
			return false, r.presenter.Error(err, "")
		}
		return true, r.presenter.Send(r.presenter.Formatter().History(coachpresenter.ToDTOGames([]*domain.PracticeGame{game})))
	default:
		res, err := r.manager.Play(ctx, r.id, fields[0])
		return r.turn(res, err, fields[0])
	}
}

func (r *repl) turn(res *practice.PlayResult, err error, input string) (bool, error) {
	if sendErr := r.presenter.Turn(coachpresenter.ToDTOTurn(res), err, input); sendErr != nil {
		return false, sendErr
	}
	return res != nil && res.Finished, nil
}

func (r *repl) switchError(err error, target string) error {
	switch {
	case errors.Is(err, practice.ErrNoTransposition):
		return r.presenter.Send("The position has not transposed into another opening.")
	case errors.Is(err, practice.ErrColorMismatch) && target != "":
		return r.presenter.Send(fmt.Sprintf("%s is played from the other side.", target))
	}
	return r.presenter.Error(err, "")
}
