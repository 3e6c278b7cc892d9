package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCommand turns a whitespace-split text command into a Command.
// The grammar is shared by the CLI one-shots and the scheduler:
//
//	brightness N
//	speed N
//	effect NAME [left|right] [SCRIPT]
//	color ZONE|all #RRGGBB
//	key ZONE
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	switch strings.ToLower(args[0]) {
	case "brightness":
		n, err := intArg(args, 1)
		if err != nil {
			return Command{}, err
		}
		return SetBrightness(n), nil

	case "speed":
		n, err := intArg(args, 1)
		if err != nil {
			return Command{}, err
		}
		return SetSpeed(n), nil

	case "effect":
		if len(args) < 2 {
			return Command{}, fmt.Errorf("%w: effect needs a name", ErrInvalidCommand)
		}
		kind, err := ParseEffect(args[1])
		if err != nil {
			return Command{}, err
		}
		var dir Direction
		var script string
		for _, a := range args[2:] {
			if d, err := ParseDirection(a); err == nil && dir == "" {
				dir = d
				continue
			}
			script = a
		}
		if kind == EffectScript && script == "" {
			return Command{}, fmt.Errorf("%w: script effect needs a script name", ErrInvalidCommand)
		}
		return SetEffectWith(kind, dir, script), nil

	case "color", "colour":
		if len(args) < 3 {
			return Command{}, fmt.Errorf("%w: color needs a zone and a value", ErrInvalidCommand)
		}
		zone, err := zoneArg(args[1])
		if err != nil {
			return Command{}, err
		}
		c, err := ParseRGB(args[2])
		if err != nil {
			return Command{}, err
		}
		return SetColor(zone, c), nil

	case "key":
		if len(args) < 2 {
			return Command{}, fmt.Errorf("%w: key needs a zone", ErrInvalidCommand)
		}
		zone, err := zoneArg(args[1])
		if err != nil {
			return Command{}, err
		}
		return KeyPress(zone), nil
	}

	return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, args[0])
}

func intArg(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, args[0])
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s value %q is not a number", ErrInvalidCommand, args[0], args[i])
	}
	return n, nil
}

func zoneArg(s string) (int, error) {
	if strings.EqualFold(s, "all") {
		return AllZones, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: zone %q", ErrInvalidCommand, s)
	}
	return n, nil
}
