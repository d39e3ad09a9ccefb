package agent

import "testing"

func TestParseSignals(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantSignal Signal
		wantReason string
	}{
		{
			name:       "no signal",
			output:     "just some agent output\nwith multiple lines",
			wantSignal: SignalNone,
		},
		{
			name:       "complete",
			output:     "done with the story\n<promise>COMPLETE</promise>\n",
			wantSignal: SignalComplete,
		},
		{
			name:       "escalate with reason",
			output:     "<promise>ESCALATE: needs a production database migration</promise>",
			wantSignal: SignalEscalate,
			wantReason: "needs a production database migration",
		},
		{
			name:       "blocked with reason",
			output:     "cannot continue\n<promise>BLOCKED: missing API credentials</promise>",
			wantSignal: SignalBlocked,
			wantReason: "missing API credentials",
		},
		{
			name:       "complete wins over blocked",
			output:     "<promise>COMPLETE</promise>\n<promise>BLOCKED: leftover</promise>",
			wantSignal: SignalComplete,
		},
		{
			name:       "malformed tag is ignored",
			output:     "<promise>COMPLETE\nno closing tag",
			wantSignal: SignalNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, reason := ParseSignals(tt.output)
			if sig != tt.wantSignal {
				t.Errorf("ParseSignals() signal = %v, want %v", sig, tt.wantSignal)
			}
			if reason != tt.wantReason {
				t.Errorf("ParseSignals() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestSignalString(t *testing.T) {
	tests := []struct {
		sig  Signal
		want string
	}{
		{SignalNone, "NONE"},
		{SignalComplete, "COMPLETE"},
		{SignalEscalate, "ESCALATE"},
		{SignalBlocked, "BLOCKED"},
	}
	for _, tt := range tests {
		if got := tt.sig.String(); got != tt.want {
			t.Errorf("Signal(%d).String() = %q, want %q", tt.sig, got, tt.want)
		}
	}
}
