// Package wizard provides the interactive start-up prompts for relaychat.
package wizard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/postalsys/relaychat/internal/config"
)

// Mode selects which side of the chat to run.
type Mode string

const (
	ModeRelay Mode = "relay"
	ModePeer  Mode = "peer"
)

// Result contains the wizard answers.
type Result struct {
	Mode    Mode
	Address string
	Port    int
	Name    string
}

// Apply copies the answers into cfg.
func (r *Result) Apply(cfg *config.Config) {
	switch r.Mode {
	case ModeRelay:
		cfg.Relay.Address = r.Address
		cfg.Relay.Port = r.Port
	case ModePeer:
		cfg.Peer.RelayAddress = r.Address
		cfg.Peer.Port = r.Port
		cfg.Peer.Name = r.Name
	}
}

// Wizard asks for the run mode, relay address, port and display name.
type Wizard struct {
	theme    *huh.Theme
	out      io.Writer
	defaults *config.Config
}

// New creates a wizard whose prompts are prefilled from defaults.
func New(defaults *config.Config, out io.Writer) *Wizard {
	if defaults == nil {
		defaults = config.Default()
	}
	return &Wizard{
		theme:    huh.ThemeDracula(),
		out:      out,
		defaults: defaults,
	}
}

// Run executes the prompts.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	mode, err := w.askMode()
	if err != nil {
		return nil, err
	}

	address, port, err := w.askEndpoint(mode)
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: mode, Address: address, Port: port}

	if mode == ModePeer {
		if res.Name, err = w.askName(); err != nil {
			return nil, err
		}
	}

	w.printSummary(res)
	return res, nil
}

func (w *Wizard) printBanner() {
	r := lipgloss.NewRenderer(w.out)

	banner := r.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
           _                  _           _
  _ __ ___| | __ _ _   _  ___| |__   __ _| |_
 | '__/ _ \ |/ _' | | | |/ __| '_ \ / _' | __|
 | | |  __/ | (_| | |_| | (__| | | | (_| | |_
 |_|  \___|_|\__,_|\__, |\___|_| |_|\__,_|\__|
                   |___/
`)

	subtitle := r.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Stream chat relay with datagram presence notices\n")

	fmt.Fprintln(w.out, banner)
	fmt.Fprintln(w.out, subtitle)
}

func (w *Wizard) askMode() (Mode, error) {
	mode := ModePeer

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[Mode]().
				Title("Mode").
				Description("Run the relay or join one as a peer").
				Options(
					huh.NewOption("Relay (server)", ModeRelay),
					huh.NewOption("Peer (client)", ModePeer),
				).
				Value(&mode),
		),
	).WithTheme(w.theme)

	err := form.Run()
	return mode, err
}

func (w *Wizard) askEndpoint(mode Mode) (address string, port int, err error) {
	address = w.defaults.Peer.RelayAddress
	portStr := strconv.Itoa(w.defaults.Peer.Port)
	if mode == ModeRelay {
		address = w.defaults.Relay.Address
		portStr = strconv.Itoa(w.defaults.Relay.Port)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Relay IP Address").
				Placeholder("127.0.0.1").
				Value(&address).
				Validate(validateAddress),

			huh.NewInput().
				Title("Port").
				Description("Shared by the stream and datagram sockets").
				Placeholder("5000").
				Value(&portStr).
				Validate(validatePort),
		),
	).WithTheme(w.theme)

	if err = form.Run(); err != nil {
		return "", 0, err
	}

	port, _ = strconv.Atoi(strings.TrimSpace(portStr))
	return strings.TrimSpace(address), port, nil
}

func (w *Wizard) askName() (string, error) {
	name := w.defaults.Peer.Name

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Display Name").
				Description("Shown to other participants").
				Value(&name).
				Validate(validateName),
		),
	).WithTheme(w.theme)

	err := form.Run()
	return name, err
}

func (w *Wizard) printSummary(res *Result) {
	r := lipgloss.NewRenderer(w.out)

	divider := r.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, divider)
	fmt.Fprintf(w.out, "  Mode:     %s\n", res.Mode)
	fmt.Fprintf(w.out, "  Endpoint: %s\n", net.JoinHostPort(res.Address, strconv.Itoa(res.Port)))
	if res.Name != "" {
		fmt.Fprintf(w.out, "  Name:     %s\n", res.Name)
	}
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out)
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("address is required")
	}
	if net.ParseIP(s) == nil {
		return fmt.Errorf("%q is not an IP address", s)
	}
	return nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.New("port must be a number")
	}
	if port < 1 || port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

func validateName(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("name is required")
	}
	return nil
}
