package envelope

import "testing"

func TestNewTermination(t *testing.T) {
	e := NewTermination("42", "ada", 1.5)
	if !e.Termination {
		t.Fatal("expected termination flag")
	}
	if e.Priority != TerminationPriority {
		t.Errorf("priority = %d, want %d", e.Priority, TerminationPriority)
	}
	if e.Kind() != KindTermination {
		t.Errorf("kind = %v, want termination", e.Kind())
	}
	if !e.IsBareTermination() {
		t.Error("expected bare termination")
	}
}

func TestCopyIsDeep(t *testing.T) {
	e := New("1", "ada", 0)
	e.CommandArgs["sentence"] = "a cat"
	e.Indexes = []string{"docs"}
	e.SetAudio([]int16{1, 2, 3})

	c := e.Copy()
	c.CommandArgs["sentence"] = "a dog"
	c.Indexes[0] = "notes"
	c.AudioAnswer[0] = 9

	if e.StringArg("sentence") != "a cat" {
		t.Error("command args aliased")
	}
	if e.Indexes[0] != "docs" {
		t.Error("indexes aliased")
	}
	if e.AudioAnswer[0] != 1 {
		t.Error("audio aliased")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Kind
	}{
		{"text", New("1", "u", 0).WithText("hi"), KindText},
		{"audio", func() Envelope { e := New("1", "u", 0); e.SetAudio(nil); return e }(), KindAudio},
		{"image", func() Envelope { e := New("1", "u", 0); e.ImageAnswer = []byte{0xff}; return e }(), KindImage},
		{"termination", NewTermination("1", "u", 0), KindTermination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestControl(t *testing.T) {
	e := New("1", "ada", 0)
	e.Priority = 5
	ack := e.Control("<CMD>", 0)

	if !ack.Silent || ack.Priority != 0 || ack.TextAnswer != "<CMD>" {
		t.Errorf("unexpected control envelope: %+v", ack)
	}
	if e.Silent || e.Priority != 5 {
		t.Error("Control must not mutate the receiver")
	}
}

func TestTerminateKeepsSession(t *testing.T) {
	e := New("1", "ada", 0)
	e.SessionID = "sid"
	term := e.Terminate(2)
	if term.SessionID != "sid" || term.ID != "1" || term.Timestamp != 2 {
		t.Errorf("unexpected termination: %+v", term)
	}
	if e.WithText("x").IsBareTermination() {
		t.Error("content envelope is not a termination")
	}
}
