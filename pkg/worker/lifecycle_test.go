package worker

import (
	"errors"
	"testing"
)

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []State
		wantErr bool
		final   State
	}{
		{
			name:  "install then activate",
			steps: []State{StateInstalling, StateInstalled, StateActivating, StateActive},
			final: StateActive,
		},
		{
			name:  "active superseded",
			steps: []State{StateInstalling, StateInstalled, StateActivating, StateActive, StateSuperseded},
			final: StateSuperseded,
		},
		{
			name:  "failed install can retry",
			steps: []State{StateInstalling, StateNew, StateInstalling},
			final: StateInstalling,
		},
		{
			name:    "cannot activate before install",
			steps:   []State{StateActivating},
			wantErr: true,
			final:   StateNew,
		},
		{
			name:    "superseded is terminal",
			steps:   []State{StateInstalling, StateInstalled, StateSuperseded, StateActive},
			wantErr: true,
			final:   StateSuperseded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Lifecycle
			var err error
			for _, step := range tt.steps {
				if err = l.Transition(step); err != nil {
					break
				}
			}

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("error = %v, want ErrInvalidTransition", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if l.State() != tt.final {
				t.Errorf("State() = %s, want %s", l.State(), tt.final)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateActive.String() != "active" {
		t.Errorf("StateActive = %q", StateActive.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("unknown state = %q", State(42).String())
	}
}
