package transport

import "testing"

func TestParseAction(t *testing.T) {
	tests := []struct {
		payload string
		want    Action
		ok      bool
	}{
		{"task_complete_01HX", Action{Kind: ActionComplete, TaskID: "01HX"}, true},
		{"/task_cancel_01HX", Action{Kind: ActionCancel, TaskID: "01HX"}, true},
		{"task_postpone_01HX_3", Action{Kind: ActionPostpone, TaskID: "01HX", Days: 3}, true},
		{"task_postpone_01HX", Action{}, false},
		{"task_postpone_01HX_0", Action{}, false},
		{"task_postpone_01HX_x", Action{}, false},
		{"task_explode_01HX", Action{}, false},
		{"task_complete_", Action{}, false},
		{"hello", Action{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, ok := ParseAction(tt.payload)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseAction(%q) = %+v, %v; want %+v, %v", tt.payload, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTaskActions_PayloadsParse(t *testing.T) {
	kb := TaskActions("01ABC")
	n := 0
	for _, row := range kb.Rows {
		for _, b := range row {
			a, ok := ParseAction(b.Payload)
			if !ok || a.TaskID != "01ABC" {
				t.Errorf("button %q payload %q does not round-trip", b.Text, b.Payload)
			}
			n++
		}
	}
	if n != 3 {
		t.Errorf("buttons = %d, want 3", n)
	}
}
