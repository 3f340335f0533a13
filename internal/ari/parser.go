// Package ari talks to the Asterisk REST Interface: it parses events from
// the ARI websocket, issues REST control calls, and keeps the event socket
// connected.
package ari

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParsedEvent is the normalized form of one raw event frame. Raw always
// holds the original bytes so the audit log can store the event verbatim.
type ParsedEvent struct {
	Type        string
	Timestamp   string // as received; the call service normalizes
	ChannelID   string
	ChannelName string
	AppName     string
	AppArgs     []string
	BridgeID    string
	Cause       *int
	CauseText   string
	Raw         json.RawMessage
}

// envelope mirrors the subset of ARI event fields the worker consumes.
type envelope struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	Application string      `json:"application"`
	Args        []string    `json:"args"`
	Channel     *channel    `json:"channel"`
	Bridge      *bridge     `json:"bridge"`
	Cause       causeNumber `json:"cause"`
	CauseTxt    string      `json:"cause_txt"`
	CauseText   string      `json:"causeText"`
}

type channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Dialplan *struct {
		AppData string `json:"app_data"`
	} `json:"dialplan"`
}

type bridge struct {
	ID string `json:"id"`
}

// causeNumber accepts a hangup cause encoded as either a JSON number or a
// numeric string.
type causeNumber struct {
	value *int
}

func (c *causeNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		// Non-numeric cause is ignored rather than failing the event.
		return nil
	}
	c.value = &n
	return nil
}

// ParseEvent normalizes one raw frame from the event socket. It never fails:
// malformed payloads yield a ParsedEvent with an empty Type, which the call
// service ignores.
func ParseEvent(data []byte) ParsedEvent {
	ev := ParsedEvent{Raw: json.RawMessage(data)}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ev
	}

	ev.Type = env.Type
	ev.Timestamp = env.Timestamp
	ev.AppName = env.Application
	ev.AppArgs = env.Args
	ev.Cause = env.Cause.value

	ev.CauseText = env.CauseTxt
	if ev.CauseText == "" {
		ev.CauseText = env.CauseText
	}

	if env.Channel != nil {
		ev.ChannelID = env.Channel.ID
		ev.ChannelName = env.Channel.Name
	}
	if env.Bridge != nil {
		ev.BridgeID = env.Bridge.ID
	}

	// Events delivered outside the stasis app carry the application and its
	// arguments only in the dial-plan string, e.g. "Stasis,pbx_ari,1001".
	if len(ev.AppArgs) == 0 && env.Channel != nil && env.Channel.Dialplan != nil {
		name, args := splitAppData(env.Channel.Dialplan.AppData)
		if ev.AppName == "" {
			ev.AppName = name
		}
		ev.AppArgs = args
	}

	return ev
}

// splitAppData parses a comma-separated dial-plan application string into
// the application name (element 0) and its arguments. Segments are
// whitespace-trimmed and empty segments dropped.
func splitAppData(appData string) (string, []string) {
	if strings.TrimSpace(appData) == "" {
		return "", nil
	}

	var parts []string
	for _, p := range strings.Split(appData, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts[0], parts[1:]
}
