// Package console is the interactive text front end: connect the robot, run the
// talent show and author programs one command at a time.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"finch-controller/internal/device"
	"finch-controller/internal/engine"
	"finch-controller/internal/program"
	"finch-controller/internal/routine"

	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

// errQuit ends the session when input runs out.
var errQuit = errors.New("input closed")

type talentAct struct {
	key     string
	title   string
	routine string
	blurb   string
}

var talentShow = []talentAct{
	{"a", "Light and Sound", "light_and_sound.lua", "The Finch robot will glow up and resonate a tune!"},
	{"b", "Do a Dance", "dance.lua", "The Finch robot will now do a dance!"},
	{"c", "Rave Party", "rave_party.lua", "The Finch robot will light up and dance while firing off some notes."},
	{"d", "Quick Song", "quick_song.lua", "The Finch robot will play a quick jingle for your ears."},
}

type inputLine struct {
	text string
	err  error
}

// Console runs one interactive session.
type Console struct {
	in       io.Reader
	lines    chan inputLine
	readOnce sync.Once
	out      io.Writer
	dev      device.Device
	routines *routine.Engine

	header lipgloss.Style
	errStr lipgloss.Style
}

// New creates a console reading from in and writing to out.
func New(in io.Reader, out io.Writer, dev device.Device, routines *routine.Engine) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		in:       in,
		lines:    make(chan inputLine),
		out:      out,
		dev:      dev,
		routines: routines,
		header:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Border(lipgloss.RoundedBorder()).Padding(0, 2),
		errStr:   r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Run shows the main menu until the user quits, input ends or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	c.screen("Finch Control")

	for ctx.Err() == nil {
		c.screen("Main Menu")
		c.printf("\ta) Connect Finch Robot\n")
		c.printf("\tb) Talent Show\n")
		c.printf("\tc) User Programming\n")
		c.printf("\td) Disconnect Finch Robot\n")
		c.printf("\tq) Quit\n")

		choice, err := c.prompt(ctx, "Enter Choice:")
		if err != nil {
			break
		}

		switch strings.ToLower(choice) {
		case "a":
			c.connect(ctx)
		case "b":
			err = c.talentShowMenu(ctx)
		case "c":
			err = c.userProgrammingMenu(ctx)
		case "d":
			c.disconnect()
		case "q":
			c.disconnect()
			c.screen("Thank you for using Finch Control!")
			return nil
		default:
			c.fail("Please enter a letter for the menu choice.")
		}
		if err != nil {
			break
		}
	}

	c.disconnect()
	return ctx.Err()
}

func (c *Console) screen(title string) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, c.header.Render(title))
	fmt.Fprintln(c.out)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) fail(msg string) {
	fmt.Fprintln(c.out, "\t"+c.errStr.Render(msg))
}

// readLines feeds c.lines from the input until it ends. It runs in its own
// goroutine so a blocked read never holds up cancellation.
func (c *Console) readLines() {
	defer close(c.lines)
	s := bufio.NewScanner(c.in)
	for s.Scan() {
		c.lines <- inputLine{text: s.Text()}
	}
	if err := s.Err(); err != nil {
		c.lines <- inputLine{err: err}
	}
}

// prompt reads one trimmed line, or returns ctx's error if ctx ends first.
func (c *Console) prompt(ctx context.Context, label string) (string, error) {
	c.printf("\t%s ", label)
	c.readOnce.Do(func() { go c.readLines() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return "", errQuit
		}
		if l.err != nil {
			return "", l.err
		}
		return strings.TrimSpace(l.text), nil
	}
}

func (c *Console) connect(ctx context.Context) {
	c.screen("Connect Finch Robot")
	c.printf("\tAbout to connect to the Finch robot. Please be sure the cable is connected.\n")

	if err := c.dev.Connect(ctx); err != nil {
		log.Debugf("[Console] Connect failed: %v", err)
		c.fail(fmt.Sprintf("Could not connect to the Finch robot: %v", err))
		return
	}
	c.printf("\tThe Finch robot is now connected.\n")
}

func (c *Console) disconnect() {
	if !c.dev.IsConnected() {
		return
	}
	if err := c.dev.Disconnect(); err != nil {
		c.fail(fmt.Sprintf("Disconnect failed: %v", err))
		return
	}
	c.printf("\tThe Finch robot is now disconnected.\n")
}

func (c *Console) talentShowMenu(ctx context.Context) error {
	for ctx.Err() == nil {
		c.screen("Talent Show Menu")
		for _, act := range talentShow {
			c.printf("\t%s) %s\n", act.key, act.title)
		}
		c.printf("\tq) Main Menu\n")

		choice, err := c.prompt(ctx, "Enter Choice:")
		if err != nil {
			return err
		}
		if strings.EqualFold(choice, "q") {
			return nil
		}

		act, ok := findAct(strings.ToLower(choice))
		if !ok {
			c.fail("Please enter a letter for the menu choice.")
			continue
		}
		c.screen(act.title)
		c.printf("\t%s\n", act.blurb)
		if err := c.routines.Run(ctx, act.routine, c.dev); err != nil {
			c.reportRunError(err)
		}
	}
	return nil
}

func findAct(key string) (talentAct, bool) {
	for _, act := range talentShow {
		if act.key == key {
			return act, true
		}
	}
	return talentAct{}, false
}

// userProgrammingMenu is one authoring session. The program is discarded when
// the session ends.
func (c *Console) userProgrammingMenu(ctx context.Context) error {
	b := program.NewBuilder()

	for ctx.Err() == nil {
		c.screen("User Programming Menu")
		c.printf("\ta) Set Command Parameters\n")
		c.printf("\tb) Add Commands\n")
		c.printf("\tc) View Commands\n")
		c.printf("\td) Execute Commands\n")
		c.printf("\tq) Main Menu\n")

		choice, err := c.prompt(ctx, "Enter Choice:")
		if err != nil {
			return err
		}

		switch strings.ToLower(choice) {
		case "a":
			err = c.setParameters(ctx, b)
		case "b":
			err = c.addCommands(ctx, b)
		case "c":
			c.viewCommands(b)
		case "d":
			c.execute(ctx, b.Program())
		case "q":
			return nil
		default:
			c.fail("Please enter a letter for the menu choice.")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) setParameters(ctx context.Context, b *program.Builder) error {
	c.screen("Command Parameters")

	speed, err := c.prompt(ctx, fmt.Sprintf("Enter the motor speed [%d-%d]:", program.MinLevel, program.MaxLevel))
	if err != nil {
		return err
	}
	brightness, err := c.prompt(ctx, fmt.Sprintf("Enter the LED brightness [%d-%d]:", program.MinLevel, program.MaxLevel))
	if err != nil {
		return err
	}
	wait, err := c.prompt(ctx, "Enter the wait time in seconds:")
	if err != nil {
		return err
	}

	if err := b.SetParameters(speed, brightness, wait); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			c.fail(line + ", using 0")
		}
	}

	p := b.Parameters()
	c.printf("\tMotor speed: %d\n", p.MotorSpeed)
	c.printf("\tLED brightness: %d\n", p.LEDBrightness)
	c.printf("\tWait time: %g seconds\n", p.WaitSeconds)
	return nil
}

func (c *Console) addCommands(ctx context.Context, b *program.Builder) error {
	c.screen("Add Commands")
	c.printf("\tCommands:")
	for i, cmd := range program.Commands() {
		if i%4 == 0 {
			c.printf("\n\t")
		}
		c.printf("  %-16s", cmd)
	}
	c.printf("\n\n\tEnter one command per line, DONE to finish.\n")

	for {
		token, err := c.prompt(ctx, fmt.Sprintf("Command %d:", b.Len()+1))
		if err != nil {
			return err
		}
		done, err := b.Append(token)
		if err != nil {
			c.fail(fmt.Sprintf("%q is not a valid command, please try again.", token))
			continue
		}
		if done {
			return nil
		}
	}
}

func (c *Console) viewCommands(b *program.Builder) {
	c.screen("View Commands")
	cmds := b.Commands()
	if len(cmds) == 0 {
		c.printf("\tNo commands entered yet.\n")
		return
	}
	for i, cmd := range cmds {
		c.printf("\t%2d. %s\n", i+1, cmd)
	}
}

func (c *Console) execute(ctx context.Context, prog program.Program) {
	c.screen("Execute Commands")
	if len(prog.Commands) == 0 {
		c.printf("\tNo commands to execute.\n")
		return
	}

	eng := engine.New(func(step engine.Step) {
		c.printf("\t%2d. %s\n", step.Index+1, step)
	})
	if err := eng.Execute(ctx, prog, c.dev); err != nil {
		c.reportRunError(err)
		return
	}
	c.printf("\tAll commands executed.\n")
}

func (c *Console) reportRunError(err error) {
	switch {
	case errors.Is(err, device.ErrUnavailable):
		c.fail("The Finch robot is not connected. Connect it from the Main Menu first.")
	case errors.Is(err, context.Canceled):
		c.fail("Stopped.")
	default:
		c.fail(fmt.Sprintf("Run failed: %v", err))
	}
}
