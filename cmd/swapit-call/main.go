// Swapit-call — CLI entry point.
//
// This tool is a terminal stand-in for the SwapIt call UI: it keeps a
// presence listener connected so incoming calls ring at any time, and lets
// the user place, accept, reject, and control audio/video calls. All media
// flows peer-to-peer over WebRTC; the relay is only used for signaling.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-server, -user, -name, -video).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/swapit-app/calls/internal/call"
	"github.com/swapit-app/calls/internal/config"
	"github.com/swapit-app/calls/internal/media"
	"github.com/swapit-app/calls/internal/prefs"
	"github.com/swapit-app/calls/internal/presence"
	"github.com/swapit-app/calls/internal/ringtone"
	"github.com/swapit-app/calls/internal/rtc"
	"github.com/swapit-app/calls/internal/signaling"
	"github.com/swapit-app/calls/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	server := flag.String("server", "", "Signaling relay URL (e.g. wss://swapit.example.com)")
	user := flag.Int("user", 0, "Local user id")
	name := flag.String("name", "", "Display name shown to the remote party")
	video := flag.Bool("video", false, "Place audio+video calls instead of audio-only")
	dataDir := flag.String("data", config.DefaultDataDir(), "Preference database directory")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("SwapIt call — v%s", version))
	pterm.Println()

	cfg := config.Config{
		ServerURL:   *server,
		UserID:      *user,
		DisplayName: *name,
		Video:       *video,
		DataDir:     *dataDir,
	}
	fillInteractive(&cfg)

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// fillInteractive prompts for any required value not provided via flags.
func fillInteractive(cfg *config.Config) {
	for cfg.ServerURL == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling relay URL (e.g. wss://swapit.example.com)").
			Show()
		if _, err := signaling.Endpoint(raw, 1); err == nil {
			cfg.ServerURL = strings.TrimSpace(raw)
		} else {
			util.LogWarning("invalid input: please enter a valid host or URL")
		}
	}
	for cfg.UserID <= 0 {
		cfg.UserID = askID("Your user id")
	}
	for cfg.DisplayName == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your display name").
			Show()
		cfg.DisplayName = strings.TrimSpace(raw)
	}
	pterm.Println()
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := prefs.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open preferences: %w", err)
	}
	defer store.Close()

	ringPath, err := store.Ringtone(cfg.UserID)
	if err != nil {
		util.LogWarning("failed to read ringtone preference: %v", err)
	}
	ring := ringtone.NewPlayer(ringPath)

	// Incoming offers are surfaced to the menu loop through this channel.
	incoming := make(chan *presence.PendingIncomingCall, 1)
	listener := presence.New(presence.Dial(cfg.ServerURL), ring, termNotifier{}, nil)
	listener.OnIncoming(func(p *presence.PendingIncomingCall) {
		select {
		case incoming <- p:
		default:
		}
	})

	if err := listener.Start(ctx, cfg.UserID); err != nil {
		return fmt.Errorf("failed to start presence listener: %w", err)
	}
	defer listener.Stop()

	util.StartStatsReporter(ctx)
	util.LogInfo("listening for incoming calls as %s (%d)", cfg.DisplayName, cfg.UserID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-incoming:
			answerPrompt(ctx, cfg, listener, p)
			continue
		default:
		}

		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{
				"Call someone",
				"Wait for incoming call",
				"Set ringtone",
				"Quit",
			}).
			WithDefaultText("SwapIt calls").
			Show()

		switch choice {
		case "Call someone":
			calleeID := askID("User id to call")
			calleeName, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("Their display name (for the call screen)").
				Show()
			runCall(ctx, cfg, call.Params{
				Self: call.Participant{ID: cfg.UserID, DisplayName: cfg.DisplayName},
				Peer: call.Participant{ID: calleeID, DisplayName: strings.TrimSpace(calleeName)},
			})

		case "Wait for incoming call":
			select {
			case <-ctx.Done():
				return nil
			case p := <-incoming:
				answerPrompt(ctx, cfg, listener, p)
			}

		case "Set ringtone":
			path, _ := pterm.DefaultInteractiveTextInput.
				WithDefaultText("Path to a WAV ringtone (empty for the default tone)").
				Show()
			if err := store.SetRingtone(cfg.UserID, strings.TrimSpace(path)); err != nil {
				util.LogError("failed to save ringtone: %v", err)
			}

		case "Quit":
			return nil
		}
	}
}

// answerPrompt surfaces one pending incoming call and routes the decision.
func answerPrompt(ctx context.Context, cfg config.Config, listener *presence.Listener, p *presence.PendingIncomingCall) {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Accept", "Decline"}).
		WithDefaultText(fmt.Sprintf("%s is calling you...", p.CallerName)).
		Show()

	if choice != "Accept" {
		if err := listener.Reject(); err != nil {
			util.LogWarning("failed to reject call: %v", err)
		}
		return
	}

	pending, err := listener.Accept()
	if err != nil {
		util.LogWarning("failed to accept call: %v", err)
		return
	}
	runCall(ctx, cfg, call.Params{
		Self:        call.Participant{ID: cfg.UserID, DisplayName: cfg.DisplayName},
		Peer:        call.Participant{ID: pending.CallerID, DisplayName: pending.CallerName},
		Incoming:    true,
		RemoteOffer: pending.Offer,
	})
}

// runCall owns one call session from dial to cleanup. The host UI policy is
// one active session at a time; this function does not return until the
// session ends.
func runCall(ctx context.Context, cfg config.Config, params call.Params) {
	client, err := signaling.NewClient(cfg.ServerURL, cfg.UserID)
	if err != nil {
		util.LogError("failed to set up call: %v", err)
		return
	}

	params.Video = cfg.Video
	params.Signal = client
	params.Setup = setupTransport
	params.OnState = func(st call.State) {
		pterm.Info.Println(fmt.Sprintf("%s — %s", params.Peer.DisplayName, st))
	}
	params.OnError = func(err error) {
		pterm.Error.Println(err.Error())
	}

	sess, err := call.Start(ctx, params)
	if err != nil {
		util.LogError("failed to start call: %v", err)
		client.Close()
		return
	}

	if err := client.Connect(ctx); err != nil {
		util.LogError("%v", fmt.Errorf("%w: %v", call.ErrSignaling, err))
		sess.EndCall()
		return
	}

	for {
		select {
		case <-sess.Done():
			pterm.Info.Println("call ended")
			return
		case <-ctx.Done():
			sess.EndCall()
			<-sess.Done()
			return
		default:
		}

		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions(controlOptions(sess, cfg.Video)).
			WithDefaultText(fmt.Sprintf("In call with %s [%s]", params.Peer.DisplayName, sess.State())).
			Show()

		switch {
		case strings.HasPrefix(choice, "Mute"), strings.HasPrefix(choice, "Unmute"):
			sess.ToggleMute()
		case strings.HasPrefix(choice, "Speaker"):
			sess.ToggleSpeaker()
		case choice == "Hang up":
			sess.EndCall()
			<-sess.Done()
			pterm.Info.Println("call ended")
			return
		}
	}
}

// controlOptions reflects the current toggle states in the menu labels.
func controlOptions(sess *call.Session, video bool) []string {
	mute := "Mute"
	if sess.Muted() {
		mute = "Unmute"
	}
	opts := []string{mute}
	if !video {
		speaker := "Speaker off"
		if !sess.SpeakerOn() {
			speaker = "Speaker on"
		}
		opts = append(opts, speaker)
	}
	return append(opts, "Hang up")
}

// setupTransport acquires local media and builds the peer transport for one
// session.
func setupTransport(video bool) (call.Peer, call.Stream, error) {
	stream, err := media.Capture(video)
	if err != nil {
		return nil, nil, err
	}
	peer, err := rtc.NewPeer(stream)
	if err != nil {
		stream.Close()
		return nil, nil, fmt.Errorf("%w: %v", call.ErrPeerFailed, err)
	}
	return peer, stream, nil
}

// termNotifier surfaces the visual incoming-call notification in the
// terminal.
type termNotifier struct{}

func (termNotifier) Notify(title, body string) {
	pterm.Println()
	pterm.Warning.Println(fmt.Sprintf("%s — %s", title, body))
}

// askID prompts the user for a positive numeric id until a valid one is
// entered.
func askID(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && id > 0 {
			return id
		}
		util.LogWarning("invalid id: must be a positive number")
	}
}
