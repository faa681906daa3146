package chat

import (
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// EventKind tags a parsed protocol line.
type EventKind int

const (
	EventOther EventKind = iota
	EventPing
	EventPrivMsg
	EventJoin
	EventWelcome
	EventNotice
	EventReconnect
)

func (k EventKind) String() string {
	switch k {
	case EventPing:
		return "ping"
	case EventPrivMsg:
		return "privmsg"
	case EventJoin:
		return "join"
	case EventWelcome:
		return "welcome"
	case EventNotice:
		return "notice"
	case EventReconnect:
		return "reconnect"
	default:
		return "other"
	}
}

// Event is one inbound line reduced to the fields the bridge uses.
//
//	Ping:    Text is the payload to echo in PONG
//	PrivMsg: Author is the sender login, Channel the target, Text the body
//	Join:    Author is the joining login
//	Notice:  Text is the notice body
type Event struct {
	Kind    EventKind
	Author  string
	Channel string
	Text    string
	Raw     string
}

// ParseLine parses one IRC line (without CRLF). Grammar follows IRCv3:
// optional @tags, optional :prefix, command, params and trailing text.
func ParseLine(line string) Event {
	line = strings.TrimRight(line, "\r\n")
	ev := Event{Kind: EventOther, Raw: line}
	if line == "" {
		return ev
	}

	switch m := parseMessage(line).(type) {
	case *twitch.PingMessage:
		ev.Kind = EventPing
		ev.Text = m.Message
	case *twitch.PrivateMessage:
		ev.Kind = EventPrivMsg
		ev.Author = m.User.Name
		ev.Channel = m.Channel
		ev.Text = m.Message
	case *twitch.UserJoinMessage:
		ev.Kind = EventJoin
		ev.Author = m.User
		ev.Channel = m.Channel
	case *twitch.NoticeMessage:
		ev.Kind = EventNotice
		ev.Channel = m.Channel
		ev.Text = m.Message
	case *twitch.ReconnectMessage:
		ev.Kind = EventReconnect
	case *twitch.RawMessage:
		if m.RawType == "001" {
			ev.Kind = EventWelcome
			ev.Text = m.Message
		}
	}
	return ev
}

// parseMessage wraps twitch.ParseMessage, which indexes params without
// checking their count. A line it cannot handle comes back as nil.
func parseMessage(line string) (msg twitch.Message) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
		}
	}()
	return twitch.ParseMessage(line)
}
