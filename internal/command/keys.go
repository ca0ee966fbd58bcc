package command

// Key is the target of a one-key command.
type Key struct {
	Kind    Kind
	Channel int
}

// keys maps single characters to commands.
var keys = map[rune]Key{
	'@': {Kind: AutoOn},
	' ': {Kind: AutoOff},

	'w': {Kind: Forward},
	'x': {Kind: Backward},
	'a': {Kind: TurnLeft},
	'd': {Kind: TurnRight},
	'A': {Kind: SlideLeft},
	'D': {Kind: SlideRight},
	'1': {Kind: Happy},
	'2': {Kind: Ojigi},
	'0': {Kind: Home},

	'h': {MoveUp, 0},
	'H': {MoveDown, 0},
	'j': {MoveUp, 1},
	'J': {MoveDown, 1},
	'k': {MoveUp, 2},
	'K': {MoveDown, 2},
	'l': {MoveUp, 3},
	'L': {MoveDown, 3},

	'u': {HomeUp, 0},
	'U': {HomeDown, 0},
	'i': {HomeUp, 1},
	'I': {HomeDown, 1},
	'o': {HomeUp, 2},
	'O': {HomeDown, 2},
	'p': {HomeUp, 3},
	'P': {HomeDown, 3},

	's': {Kind: Stop},
	'S': {Kind: Stop},
}

// LookupKey resolves a one-key command.
func LookupKey(r rune) (Key, bool) {
	k, ok := keys[r]
	return k, ok
}

// KeyMap returns a copy of the one-key table, for help screens.
func KeyMap() map[rune]Key {
	out := make(map[rune]Key, len(keys))
	for r, k := range keys {
		out[r] = k
	}
	return out
}

// Command builds a one-key command: count 1, interrupting.
func (k Key) Command(raw string) Command {
	return Command{
		Kind:      k.Kind,
		Channel:   k.Channel,
		Count:     1,
		Interrupt: true,
		Raw:       raw,
	}
}
