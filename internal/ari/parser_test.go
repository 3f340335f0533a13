package ari

import (
	"reflect"
	"testing"
)

func TestParseEventStasisStart(t *testing.T) {
	data := []byte(`{
		"type": "StasisStart",
		"timestamp": "2026-01-10T12:00:00.000+0900",
		"application": "pbx_ari",
		"args": ["1001"],
		"channel": {"id": "C-A", "name": "PJSIP/1000-00000001"}
	}`)

	ev := ParseEvent(data)

	if ev.Type != "StasisStart" {
		t.Errorf("Type = %q, want StasisStart", ev.Type)
	}
	if ev.Timestamp != "2026-01-10T12:00:00.000+0900" {
		t.Errorf("Timestamp = %q", ev.Timestamp)
	}
	if ev.ChannelID != "C-A" {
		t.Errorf("ChannelID = %q, want C-A", ev.ChannelID)
	}
	if ev.ChannelName != "PJSIP/1000-00000001" {
		t.Errorf("ChannelName = %q", ev.ChannelName)
	}
	if ev.AppName != "pbx_ari" {
		t.Errorf("AppName = %q, want pbx_ari", ev.AppName)
	}
	if !reflect.DeepEqual(ev.AppArgs, []string{"1001"}) {
		t.Errorf("AppArgs = %v, want [1001]", ev.AppArgs)
	}
	if string(ev.Raw) != string(data) {
		t.Error("Raw does not hold the original bytes")
	}
}

func TestParseEventDialplanFallback(t *testing.T) {
	tests := []struct {
		name     string
		appData  string
		wantName string
		wantArgs []string
	}{
		{"simple", "Stasis,pbx_ari,1001", "Stasis", []string{"pbx_ari", "1001"}},
		{"whitespace", " Stasis , pbx_ari , 1001 ", "Stasis", []string{"pbx_ari", "1001"}},
		{"empty segments", "Stasis,,1001,", "Stasis", []string{"1001"}},
		{"blank", "   ", "", nil},
		{"single element", "Hangup", "Hangup", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{
				"type": "ChannelCreated",
				"channel": {"id": "C-X", "dialplan": {"app_data": "` + tt.appData + `"}}
			}`)

			ev := ParseEvent(data)
			if ev.AppName != tt.wantName {
				t.Errorf("AppName = %q, want %q", ev.AppName, tt.wantName)
			}
			if !reflect.DeepEqual(ev.AppArgs, tt.wantArgs) {
				t.Errorf("AppArgs = %v, want %v", ev.AppArgs, tt.wantArgs)
			}
		})
	}
}

func TestParseEventExplicitArgsWinOverDialplan(t *testing.T) {
	data := []byte(`{
		"type": "StasisStart",
		"application": "pbx_ari",
		"args": ["callee", "1001"],
		"channel": {"id": "C-B", "dialplan": {"app_data": "Stasis,other,9999"}}
	}`)

	ev := ParseEvent(data)
	if !reflect.DeepEqual(ev.AppArgs, []string{"callee", "1001"}) {
		t.Errorf("AppArgs = %v, want [callee 1001]", ev.AppArgs)
	}
	if ev.AppName != "pbx_ari" {
		t.Errorf("AppName = %q, want pbx_ari", ev.AppName)
	}
}

func TestParseEventCause(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantCause *int
		wantText  string
	}{
		{
			"numeric cause with cause_txt",
			`{"type":"ChannelDestroyed","cause":16,"cause_txt":"Normal Clearing"}`,
			intPtr(16), "Normal Clearing",
		},
		{
			"string cause",
			`{"type":"ChannelDestroyed","cause":"17"}`,
			intPtr(17), "",
		},
		{
			"causeText variant",
			`{"type":"ChannelDestroyed","causeText":"Busy"}`,
			nil, "Busy",
		},
		{
			"cause_txt wins over causeText",
			`{"type":"ChannelDestroyed","cause_txt":"Normal Clearing","causeText":"Busy"}`,
			nil, "Normal Clearing",
		},
		{
			"non-numeric cause ignored",
			`{"type":"ChannelDestroyed","cause":"abc"}`,
			nil, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseEvent([]byte(tt.json))
			if (ev.Cause == nil) != (tt.wantCause == nil) {
				t.Fatalf("Cause = %v, want %v", ev.Cause, tt.wantCause)
			}
			if ev.Cause != nil && *ev.Cause != *tt.wantCause {
				t.Errorf("Cause = %d, want %d", *ev.Cause, *tt.wantCause)
			}
			if ev.CauseText != tt.wantText {
				t.Errorf("CauseText = %q, want %q", ev.CauseText, tt.wantText)
			}
		})
	}
}

func TestParseEventBridge(t *testing.T) {
	ev := ParseEvent([]byte(`{
		"type": "ChannelEnteredBridge",
		"bridge": {"id": "B-1"},
		"channel": {"id": "C-A"}
	}`))

	if ev.BridgeID != "B-1" {
		t.Errorf("BridgeID = %q, want B-1", ev.BridgeID)
	}
}

func TestParseEventMalformed(t *testing.T) {
	for _, data := range []string{"", "not json", `["array"]`, `{"type":42}`} {
		ev := ParseEvent([]byte(data))
		if ev.Type != "" {
			t.Errorf("ParseEvent(%q).Type = %q, want empty", data, ev.Type)
		}
		if string(ev.Raw) != data {
			t.Errorf("ParseEvent(%q) lost raw bytes", data)
		}
	}
}

func intPtr(n int) *int { return &n }
