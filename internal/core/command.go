package core

import "github.com/google/uuid"

// CommandType defines the type of command being dispatched.
type CommandType string

const (
	CmdSetBrightness CommandType = "setBrightness"
	CmdSetSpeed      CommandType = "setSpeed"
	CmdSetEffect     CommandType = "setEffect"
	CmdSetColor      CommandType = "setColor"
	CmdKeyPress      CommandType = "keyPress"
	CmdSaveProfile   CommandType = "saveProfile"
	CmdLoadProfile   CommandType = "loadProfile"
	CmdShutdown      CommandType = "shutdown"
)

// AllZones addresses every zone in a SetColor command.
const AllZones = -1

// Result is delivered on a command's reply channel once the engine has applied it.
type Result struct {
	State EngineState
	Err   error
}

// Command is an immutable request for the effect engine. Build it with the
// constructors below; only the fields relevant to Type are meaningful.
type Command struct {
	ID   uuid.UUID
	Type CommandType

	Level     int
	Effect    EffectKind
	Direction Direction
	Script    string
	Zone      int
	Color     RGB
	Profile   *EngineState
	Overwrite bool

	// Reply, when set, receives exactly one Result. It must be buffered.
	Reply chan<- Result
}

func newCommand(t CommandType) Command {
	return Command{ID: uuid.New(), Type: t}
}

// SetBrightness requests a brightness level. Out-of-range levels are clamped.
func SetBrightness(level int) Command {
	c := newCommand(CmdSetBrightness)
	c.Level = level
	return c
}

// SetSpeed requests an animation speed level. Out-of-range levels are clamped.
func SetSpeed(level int) Command {
	c := newCommand(CmdSetSpeed)
	c.Level = level
	return c
}

// SetEffect selects an effect keeping the current direction.
func SetEffect(kind EffectKind) Command {
	c := newCommand(CmdSetEffect)
	c.Effect = kind
	return c
}

// SetEffectWith selects an effect with an explicit direction and script name.
func SetEffectWith(kind EffectKind, dir Direction, script string) Command {
	c := SetEffect(kind)
	c.Direction = dir
	c.Script = script
	return c
}

// SetColor paints one zone, or every zone when zone is AllZones.
func SetColor(zone int, color RGB) Command {
	c := newCommand(CmdSetColor)
	c.Zone = zone
	c.Color = color
	return c
}

// KeyPress feeds a key event in a zone to the reactive effect.
func KeyPress(zone int) Command {
	c := newCommand(CmdKeyPress)
	c.Zone = zone
	return c
}

// SaveProfile asks the engine to halt and reply with a consistent snapshot.
func SaveProfile() Command {
	return newCommand(CmdSaveProfile)
}

// LoadProfile replaces the engine state with a stored profile.
func LoadProfile(state EngineState, overwrite bool) Command {
	c := newCommand(CmdLoadProfile)
	s := state.Clone()
	c.Profile = &s
	c.Overwrite = overwrite
	return c
}

// Shutdown terminates the engine.
func Shutdown() Command {
	return newCommand(CmdShutdown)
}

// WithReply attaches a fresh buffered reply channel and returns it.
func (c Command) WithReply() (Command, <-chan Result) {
	ch := make(chan Result, 1)
	c.Reply = ch
	return c, ch
}

// Respond delivers r on the reply channel without blocking.
func (c Command) Respond(r Result) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- r:
	default:
	}
}

// CommandChannel delivers commands without waiting for their result. Every
// front-end controller embeds it.
type CommandChannel interface {
	Send(Command) error
}
