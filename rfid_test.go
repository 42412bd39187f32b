package catcierge

import (
	"testing"
)

func rfidEvent(side Direction, complete bool, data string) RFIDEvent {
	name := "Inner"
	if side == DirOut {
		name = "Outer"
	}
	return RFIDEvent{
		Name:     name,
		Side:     side,
		Complete: complete,
		Data:     []byte(data),
	}
}

func TestRFIDContext_FirstReadTriggers(t *testing.T) {
	ctx := &RFIDContext{Allowed: []string{"999000000123456"}}
	ctx.Reset()

	if !ctx.Observe(rfidEvent(DirIn, true, "999000000123456")) {
		t.Error("first read should trigger the side")
	}
	if !ctx.In.Triggered {
		t.Error("inner side should be triggered")
	}
	if !ctx.In.IsAllowed {
		t.Error("tag on the allow-list should be allowed")
	}
	if ctx.Direction != DirUnknown {
		t.Errorf("single reader should not set a direction, got %s", ctx.Direction)
	}

	if ctx.Observe(rfidEvent(DirIn, true, "999000000123456")) {
		t.Error("second read on the same side must not trigger again")
	}
}

func TestRFIDContext_LaterSideSetsDirection(t *testing.T) {
	// The cat travels from the first reader towards the second: outer
	// first then inner means it is coming IN.
	ctx := &RFIDContext{}
	ctx.Reset()

	ctx.Observe(rfidEvent(DirOut, true, "999000000123456"))
	if ctx.Direction != DirUnknown {
		t.Errorf("direction set too early: %s", ctx.Direction)
	}

	ctx.Observe(rfidEvent(DirIn, true, "999000000123456"))
	if ctx.Direction != DirIn {
		t.Errorf("direction = %s, want in", ctx.Direction)
	}
}

func TestRFIDContext_LongerCompletionSupersedes(t *testing.T) {
	ctx := &RFIDContext{Allowed: []string{"999000000123456"}}
	ctx.Reset()

	// A truncated read triggers the side but is not allowed.
	ctx.Observe(rfidEvent(DirIn, false, "9990000"))
	if !ctx.In.Triggered {
		t.Fatal("partial read should still trigger")
	}
	if ctx.In.Complete || ctx.In.IsAllowed {
		t.Error("partial read should be incomplete and disallowed")
	}

	// The late complete read supersedes the stored truncation.
	ctx.Observe(rfidEvent(DirIn, true, "999000000123456"))
	if !ctx.In.Complete {
		t.Error("complete read should replace the stored truncation")
	}
	if string(ctx.In.Data) != "999000000123456" {
		t.Errorf("stored data = %q, want the complete tag", ctx.In.Data)
	}
	if !ctx.In.IsAllowed {
		t.Error("superseding data should re-run the allow-list check")
	}
}

func TestRFIDContext_ShorterCompletionDoesNotSupersede(t *testing.T) {
	ctx := &RFIDContext{}
	ctx.Reset()

	ctx.Observe(rfidEvent(DirIn, true, "999000000123456"))
	ctx.Observe(rfidEvent(DirIn, true, "999"))

	if string(ctx.In.Data) != "999000000123456" {
		t.Errorf("stored data = %q, shorter completion must not replace it", ctx.In.Data)
	}
}

func TestRFIDContext_ShouldLockout(t *testing.T) {
	tests := []struct {
		name              string
		inConf, outConf   bool
		inAllow, outAllow bool
		want              bool
	}{
		{"both configured one allowed", true, true, true, false, false},
		{"both configured other allowed", true, true, false, true, false},
		{"both configured none allowed", true, true, false, false, true},
		{"inner only allowed", true, false, true, false, false},
		{"inner only disallowed", true, false, false, false, true},
		{"outer only allowed", false, true, false, true, false},
		{"outer only disallowed", false, true, false, false, true},
		{"none configured", false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &RFIDContext{
				InConfigured:  tt.inConf,
				OutConfigured: tt.outConf,
			}
			ctx.In.IsAllowed = tt.inAllow
			ctx.Out.IsAllowed = tt.outAllow

			if got := ctx.ShouldLockout(); got != tt.want {
				t.Errorf("ShouldLockout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRFIDContext_Reset(t *testing.T) {
	ctx := &RFIDContext{}
	ctx.Observe(rfidEvent(DirOut, true, "999000000123456"))
	ctx.Observe(rfidEvent(DirIn, true, "999000000123456"))

	ctx.Reset()

	if ctx.In.Triggered || ctx.Out.Triggered {
		t.Error("Reset should clear both sides")
	}
	if ctx.Direction != DirUnknown {
		t.Errorf("Reset should clear the direction, got %s", ctx.Direction)
	}
}
