package assembler

import (
	"strings"
	"testing"

	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/model"
)

func exchange(n int) []model.Message {
	msgs := make([]model.Message, 0, n*2)
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			model.Message{Role: model.RoleUser, Content: "question"},
			model.Message{Role: model.RoleAssistant, Content: "answer", ModelID: "m1"},
		)
	}
	return msgs
}

func TestBuildWindowBoundedByTier(t *testing.T) {
	in := Input{
		History:   exchange(20),
		Effective: entitlement.Effective{ContextWindow: 8, Memory: true},
		ModelID:   "m1",
	}
	out := Build(in, DefaultConfig())
	if len(out.Messages) != 8 {
		t.Errorf("window = %d messages, want 8", len(out.Messages))
	}
}

func TestBuildMemoryDisabledUsesFloor(t *testing.T) {
	in := Input{
		History:   exchange(20),
		Effective: entitlement.Effective{ContextWindow: 8, Memory: false},
		ModelID:   "m1",
	}
	out := Build(in, DefaultConfig())
	if len(out.Messages) != DefaultConfig().MemoryFloor {
		t.Errorf("window = %d messages, want floor %d", len(out.Messages), DefaultConfig().MemoryFloor)
	}
}

func TestBuildShortHistoryKeptWhole(t *testing.T) {
	in := Input{
		History:   exchange(1),
		Effective: entitlement.Effective{ContextWindow: 8, Memory: false},
		ModelID:   "m1",
	}
	out := Build(in, DefaultConfig())
	if len(out.Messages) != 2 {
		t.Errorf("window = %d messages, want 2", len(out.Messages))
	}
}

func TestBuildSummaryRequiresSummarizeAndMemory(t *testing.T) {
	base := Input{
		History: exchange(2),
		Summary: "they discussed turtles",
		ModelID: "m1",
	}

	cases := []struct {
		name      string
		summarize bool
		memory    bool
		want      bool
	}{
		{"both", true, true, true},
		{"no summarize", false, true, false},
		{"no memory", true, false, false},
	}
	for _, tc := range cases {
		in := base
		in.Effective = entitlement.Effective{ContextWindow: 8, Memory: tc.memory, Summarize: tc.summarize}
		out := Build(in, DefaultConfig())
		got := strings.Contains(out.System, "turtles")
		if got != tc.want {
			t.Errorf("%s: summary present = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBuildSwitchContextOnModelChange(t *testing.T) {
	in := Input{
		History:     exchange(5),
		Effective:   entitlement.Effective{ContextWindow: 20, Memory: true},
		ModelID:     "m2",
		PrevModelID: "m1",
	}
	out := Build(in, DefaultConfig())
	if !strings.Contains(out.System, "taking over an ongoing conversation") {
		t.Error("expected switch transcript in system prompt on model change")
	}

	// The transcript embeds at most SwitchExchanges exchanges verbatim.
	if got := strings.Count(out.System, "User: "); got != DefaultConfig().SwitchExchanges {
		t.Errorf("transcript user turns = %d, want %d", got, DefaultConfig().SwitchExchanges)
	}
}

func TestBuildNoSwitchContextSameModel(t *testing.T) {
	in := Input{
		History:     exchange(5),
		Effective:   entitlement.Effective{ContextWindow: 20, Memory: true},
		ModelID:     "m1",
		PrevModelID: "m1",
	}
	out := Build(in, DefaultConfig())
	if strings.Contains(out.System, "taking over") {
		t.Error("no switch transcript expected when the model is unchanged")
	}
}

func TestBuildNoSwitchContextFirstDispatch(t *testing.T) {
	in := Input{
		History:   exchange(1),
		Effective: entitlement.Effective{ContextWindow: 20, Memory: true},
		ModelID:   "m1",
	}
	out := Build(in, DefaultConfig())
	if strings.Contains(out.System, "taking over") {
		t.Error("no switch transcript expected when no model answered before")
	}
}

func TestBuildAlternativeFramingTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	in := Input{
		History:   exchange(1),
		Effective: entitlement.Effective{ContextWindow: 8, Memory: true},
		ModelID:   "m2",
		Alternative: &Alternative{
			Question:     "why",
			OtherModelID: "m1",
			OtherAnswer:  long,
		},
	}
	out := Build(in, DefaultConfig())
	if !strings.Contains(out.System, "independent answer") {
		t.Error("expected alternative framing in system prompt")
	}
	if strings.Contains(out.System, long) {
		t.Error("other answer should be truncated")
	}
	if !strings.Contains(out.System, strings.Repeat("x", DefaultConfig().AltAnswerLimit)+"…") {
		t.Error("truncated answer should end with an ellipsis")
	}
}

func TestBuildSystemPrecedence(t *testing.T) {
	in := Input{
		History:            exchange(2),
		Effective:          entitlement.Effective{ContextWindow: 8, Memory: true, Summarize: true},
		Summary:            "summary-text",
		ModelID:            "m2",
		PrevModelID:        "m1",
		BasePrompt:         "base-prompt",
		CustomInstructions: "custom-instructions",
	}
	out := Build(in, DefaultConfig())

	iBase := strings.Index(out.System, "base-prompt")
	iCustom := strings.Index(out.System, "custom-instructions")
	iSwitch := strings.Index(out.System, "taking over")
	iSummary := strings.Index(out.System, "summary-text")

	if iBase < 0 || iCustom < 0 || iSwitch < 0 || iSummary < 0 {
		t.Fatalf("missing fragment: base=%d custom=%d switch=%d summary=%d", iBase, iCustom, iSwitch, iSummary)
	}
	if !(iBase < iCustom && iCustom < iSwitch && iSwitch < iSummary) {
		t.Errorf("fragment order wrong: base=%d custom=%d switch=%d summary=%d", iBase, iCustom, iSwitch, iSummary)
	}
}

func TestSummaryDue(t *testing.T) {
	cases := []struct {
		count, cadence int
		want           bool
	}{
		{5, 5, true},
		{10, 5, true},
		{4, 5, false},
		{6, 5, false},
		{0, 5, false},
		{5, 0, false},
	}
	for _, tc := range cases {
		if got := SummaryDue(tc.count, tc.cadence); got != tc.want {
			t.Errorf("SummaryDue(%d, %d) = %v, want %v", tc.count, tc.cadence, got, tc.want)
		}
	}
}

func TestLastModelID(t *testing.T) {
	history := []model.Message{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1", ModelID: "m1"},
		{Role: model.RoleUser, Content: "q2"},
		{Role: model.RoleAssistant, Content: "a2", ModelID: "m2"},
		{Role: model.RoleUser, Content: "q3"},
	}
	if got := LastModelID(history); got != "m2" {
		t.Errorf("LastModelID = %q, want m2", got)
	}
	if got := LastModelID(history[:1]); got != "" {
		t.Errorf("LastModelID with no assistant turns = %q, want empty", got)
	}
}
