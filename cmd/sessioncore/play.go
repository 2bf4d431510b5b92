package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
	"sessioncore/internal/session"
)

const playHelp = `Commands:
  /list              show unlocked npcs
  /talk <npc>        open a session (name, id or index)
  /voice on|off      turn npc speech on or off
  /listen on|off     turn the microphone on or off
  /game              take up the side activity
  /flip <a> <b>      flip two cards
  /done              stop the card game
  /conclude          finish the session
  /leave [!]         leave the session, ! confirms
  /insight <text>    share an insight about the current npc
  /export            print a save code
  /import <code>     load a save code
  /newgame           start over
  /quit              save and exit
Anything else is said to the npc.`

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play sessions on the terminal",
		Args:  cobra.NoArgs,
		RunE:  runPlay,
	}
	return cmd
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return play(ctx, os.Stdin, os.Stdout)
}

// play runs the session loop until the input ends, /quit or ctx is done. The
// autosave slot is flushed on every exit path.
func play(ctx context.Context, in io.Reader, out io.Writer) error {
	g, err := openGame(ctx, gameOptions{withRoom: true})
	if err != nil {
		return err
	}
	defer g.close(context.Background())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.autosave.Run(runCtx, g.cfg.Autosave.Interval, g.ctrl.InSession)
	go tick(runCtx, g)

	p := &player{g: g, out: out}
	unsubscribe := g.ctrl.Subscribe(p.render)
	defer unsubscribe()

	fmt.Fprintln(p.out, "Type /help for commands.")
	return p.loop(runCtx, in)
}

type player struct {
	g   *game
	out io.Writer
}

func (p *player) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(p.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return nil
		case err := <-scanErr:
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := p.handle(ctx, line); err != nil {
			fmt.Fprintf(p.out, "! %v\n", err)
		}
	}
}

func (p *player) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		_, err := p.g.ctrl.SendMessage(ctx, line)
		return err
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	ctrl := p.g.ctrl
	switch name {
	case "help":
		fmt.Fprintln(p.out, playHelp)
		return nil
	case "list":
		p.list()
		return nil
	case "talk":
		index, err := p.resolve(rest)
		if err != nil {
			return err
		}
		_, err = ctrl.SelectNPC(ctx, index)
		if err == nil && p.g.layer != nil {
			rec, _ := p.g.cat.ByIndex(index)
			p.g.layer.UpdatePresence(ctx, rec.ID)
		}
		return err
	case "voice":
		on, err := parseSwitch("voice", rest)
		if err != nil {
			return err
		}
		if ctrl.Phase() == session.PhasePermissionGate {
			return ctrl.ChoosePermission(ctx, on)
		}
		settings := ctrl.Settings()
		settings.Voice = on
		ctrl.SetSettings(ctx, settings)
		fmt.Fprintf(p.out, "  voice %s\n", rest)
		return nil
	case "listen":
		on, err := parseSwitch("listen", rest)
		if err != nil {
			return err
		}
		if err := ctrl.EnableListening(ctx, on); err != nil {
			return errors.New(gameerr.UserMessage(gameerr.BackendUnavailable))
		}
		fmt.Fprintf(p.out, "  listening %s\n", rest)
		return nil
	case "game":
		_, err := ctrl.StartMiniGame()
		return err
	case "flip":
		a, b, err := parsePair(rest)
		if err != nil {
			return err
		}
		res, err := ctrl.FlipCards(a, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "  %s %s  match=%v moves left=%d\n", res.A, res.B, res.Match, res.MovesLeft)
		if !res.Done {
			p.board(ctrl.Snapshot().MiniGame)
		}
		return nil
	case "done":
		return ctrl.CompleteMiniGame(false)
	case "conclude":
		out, err := ctrl.Conclude(ctx)
		if err != nil {
			return err
		}
		if out.Healed && p.g.layer != nil {
			p.g.layer.Announce(ctx, string(session.EventNPCHealed), map[string]string{"npc": out.NPCID})
		}
		return nil
	case "leave":
		err := ctrl.Abandon(rest == "!")
		if errors.Is(err, session.ErrConfirmationRequired) {
			return fmt.Errorf("leaving loses this conversation; use /leave ! to confirm")
		}
		return err
	case "insight":
		return p.insight(ctx, rest)
	case "export":
		code, err := p.g.codec.EncodeCode(p.g.tracker.Snapshot())
		if err != nil {
			return err
		}
		fmt.Fprintln(p.out, code)
		return nil
	case "import":
		snap, err := p.g.codec.DecodeCode(rest)
		if err != nil {
			return errors.New(gameerr.UserMessage(gameerr.DecodeError))
		}
		return ctrl.Restore(snap)
	case "newgame":
		return ctrl.NewGame()
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

func (p *player) resolve(ref string) (int, error) {
	if ref == "" {
		return 0, fmt.Errorf("usage: /talk <npc>")
	}
	if i, err := strconv.Atoi(ref); err == nil {
		return i, nil
	}
	return p.g.cat.FindByName(ref)
}

func (p *player) list() {
	for i, rec := range p.g.cat.Records() {
		if !p.g.tracker.IsUnlocked(i) {
			continue
		}
		status := ""
		if p.g.tracker.IsHealed(i) {
			status = " (healed)"
		}
		fmt.Fprintf(p.out, "  [%d] %s from %s%s\n", i, rec.Name, rec.Origin, status)
	}
}

func (p *player) insight(ctx context.Context, text string) error {
	if p.g.layer == nil {
		return fmt.Errorf("no shared room")
	}
	view := p.g.ctrl.Snapshot()
	if view.NPCID == "" {
		return fmt.Errorf("open a session first")
	}
	if _, err := p.g.layer.AddInsight(ctx, view.NPCID, text, ""); err != nil {
		return err
	}
	for _, in := range p.g.layer.Insights(view.NPCID) {
		fmt.Fprintf(p.out, "  %s: %s\n", in.Author, in.Text)
	}
	return nil
}

func (p *player) board(view *session.MiniGameView) {
	if view == nil {
		return
	}
	fmt.Fprintf(p.out, "  %s  (%d/%d pairs, %d/%d moves)\n",
		strings.Join(view.Board, " "), view.Found, view.Pairs, view.Moves, view.MaxMoves)
}

// render prints controller events. It only formats; the controller owns every
// decision.
func (p *player) render(ev session.Event) {
	switch ev.Type {
	case session.EventPermissionRequested:
		fmt.Fprintln(p.out, "Voice features? /voice on or /voice off")
	case session.EventMessage:
		if ev.Message == nil || ev.Message.Role == progress.RoleSystem {
			return
		}
		if ev.Message.Role == progress.RoleAssistant {
			rec, _ := p.g.cat.ByID(ev.NPCID)
			fmt.Fprintf(p.out, "%s: %s\n", rec.Name, ev.Message.Content)
		}
	case session.EventBondChanged:
		if ev.BondDelta != 0 {
			fmt.Fprintf(p.out, "  (bond %+d, now %d)\n", ev.BondDelta, ev.Bond)
		}
	case session.EventSideActivityOffered:
		fmt.Fprintln(p.out, "  A card game is on the table. /game to play.")
	case session.EventMiniGameStarted:
		fmt.Fprintln(p.out, "  Cards are dealt. /flip <a> <b>")
		p.board(p.g.ctrl.Snapshot().MiniGame)
	case session.EventConcludeAvailable:
		fmt.Fprintln(p.out, "  You can /conclude the session.")
	case session.EventSessionConcluded:
		if ev.Success {
			fmt.Fprintf(p.out, "Session notes: %s\n", ev.Text)
		}
	case session.EventNPCHealed:
		fmt.Fprintln(p.out, "  Breakthrough!")
	case session.EventCollectibleAwarded:
		if ev.Collectible != nil {
			fmt.Fprintf(p.out, "  Collectible: %s\n", ev.Collectible.Prompt)
		}
	case session.EventNPCsUnlocked:
		for _, i := range ev.Unlocked {
			if rec, ok := p.g.cat.ByIndex(i); ok {
				fmt.Fprintf(p.out, "  Unlocked %s.\n", rec.Name)
			}
		}
	case session.EventSessionAbandoned:
		fmt.Fprintln(p.out, "  You left the session.")
	case session.EventNewGame:
		fmt.Fprintln(p.out, "  New game.")
	case session.EventToast:
		fmt.Fprintf(p.out, "* %s\n", ev.Text)
	}
}

func parsePair(s string) (int, int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("usage: /flip <a> <b>")
	}
	a, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("card %q: %w", fields[0], err)
	}
	b, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("card %q: %w", fields[1], err)
	}
	return a, b, nil
}

func parseSwitch(name, s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("usage: /%s on|off", name)
	}
}
