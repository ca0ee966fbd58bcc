package command

import "testing"

// ---------- Kind ----------

func TestKind_StringCoversEveryKind(t *testing.T) {
	for _, k := range Kinds() {
		if k.String() == "" {
			t.Errorf("kind %d has no name", int(k))
		}
	}
	if got := Kind(999).String(); got != "Kind(999)" {
		t.Errorf("out of range String() = %q", got)
	}
}

func TestKinds_ExcludesInvalid(t *testing.T) {
	for _, k := range Kinds() {
		if k == Invalid {
			t.Fatal("Kinds() must not contain Invalid")
		}
	}
	if len(Kinds()) != int(numKinds)-1 {
		t.Errorf("Kinds() len = %d, want %d", len(Kinds()), int(numKinds)-1)
	}
}

// ---------- Lookup ----------

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		kind    Kind
		channel int
		ok      bool
	}{
		{"plain", "forward", Forward, 0, true},
		{"home", "home", Home, 0, true},
		{"per channel", "home_up0", HomeUp, 0, true},
		{"per channel 3", "move_down3", MoveDown, 3, true},
		{"channel out of range", "home_up4", Invalid, 0, false},
		{"channel missing", "move_up", Invalid, 0, false},
		{"channel two digits", "move_up01", Invalid, 0, false},
		{"suffix on plain name", "forward1", Invalid, 0, false},
		{"auto switches are not controller names", "on", Invalid, 0, false},
		{"unknown", "dance", Invalid, 0, false},
		{"empty", "", Invalid, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ch, ok := Lookup(tt.in)
			if k != tt.kind || ch != tt.channel || ok != tt.ok {
				t.Errorf("Lookup(%q) = (%v, %d, %v), want (%v, %d, %v)",
					tt.in, k, ch, ok, tt.kind, tt.channel, tt.ok)
			}
		})
	}
}

func TestCommand_NameRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		if k == AutoOn || k == AutoOff {
			continue
		}
		c := Command{Kind: k}
		if k.PerChannel() {
			c.Channel = 2
		}
		got, ch, ok := Lookup(c.Name())
		if !ok || got != k || ch != c.Channel {
			t.Errorf("Lookup(%q) = (%v, %d, %v)", c.Name(), got, ch, ok)
		}
	}
}

// ---------- ParseWord ----------

func TestParseWord(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		count   int
		speed   int
		quiet   bool
		wantErr bool
	}{
		{"name only", "forward", "forward", 1, 0, false, false},
		{"count", "forward 3", "forward", 3, 0, false, false},
		{"continuous", "happy 0", "happy", 0, 0, false, false},
		{"count and speed", "turn_left 2 40", "turn_left", 2, 40, false, false},
		{"quiet", "home q", "home", 1, 0, true, false},
		{"all", "slide_right 5 10 q", "slide_right", 5, 10, true, false},
		{"extra spaces", "  ojigi   2 ", "ojigi", 2, 0, false, false},
		{"auto prefix kept", "auto_forward 2", "auto_forward", 2, 0, false, false},
		{"negative", "forward -1", "forward", 1, 0, false, true},
		{"garbage", "forward x", "forward", 1, 0, false, true},
		{"too many", "forward 1 2 3", "forward", 1, 2, false, true},
		{"empty", "   ", "", 1, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, c, err := ParseWord(tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWord(%q) err = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name != tt.want || c.Count != tt.count || c.Speed != tt.speed || c.Quiet != tt.quiet {
				t.Errorf("ParseWord(%q) = %q %+v", tt.body, name, c)
			}
		})
	}
}

// ---------- Keys ----------

func TestLookupKey(t *testing.T) {
	tests := []struct {
		r       rune
		kind    Kind
		channel int
		ok      bool
	}{
		{'w', Forward, 0, true},
		{'x', Backward, 0, true},
		{'@', AutoOn, 0, true},
		{' ', AutoOff, 0, true},
		{'h', MoveUp, 0, true},
		{'L', MoveDown, 3, true},
		{'u', HomeUp, 0, true},
		{'P', HomeDown, 3, true},
		{'s', Stop, 0, true},
		{'S', Stop, 0, true},
		{'z', Invalid, 0, false},
	}
	for _, tt := range tests {
		k, ok := LookupKey(tt.r)
		if ok != tt.ok || k.Kind != tt.kind || k.Channel != tt.channel {
			t.Errorf("LookupKey(%q) = (%+v, %v)", tt.r, k, ok)
		}
	}
}

func TestKey_CommandInterrupts(t *testing.T) {
	k, _ := LookupKey('w')
	c := k.Command("w")
	if !c.Interrupt || c.Count != 1 || c.Kind != Forward || c.Raw != "w" {
		t.Errorf("unexpected command %+v", c)
	}
}

func TestKeyMap_IsCopy(t *testing.T) {
	m := KeyMap()
	delete(m, 'w')
	if _, ok := LookupKey('w'); !ok {
		t.Error("KeyMap must not expose the internal table")
	}
}
