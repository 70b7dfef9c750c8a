package collab

import "testing"

func TestNewAssignsIDAndDefaults(t *testing.T) {
	m := New(TypeHandoff, "a1", "a2", HandoffPayload{Task: "t"})

	if m.ID == "" {
		t.Error("no id assigned")
	}
	if m.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal", m.Priority)
	}
	if m.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid direct", Message{Type: TypeSubTask, From: "a", To: "b"}, false},
		{"broadcast without recipient", Message{Type: TypeBroadcast, From: "a"}, false},
		{"missing type", Message{From: "a", To: "b"}, true},
		{"missing sender", Message{Type: TypeSubTask, To: "b"}, true},
		{"direct without recipient", Message{Type: TypeSubTask, From: "a"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.msg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}
