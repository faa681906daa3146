// Package chat contains the Twitch IRC transport and the auto-conversation
// scheduler.
//
// It provides two entrypoints:
//   - Dial / Client.ReceiveLoop: connects to Twitch IRC, authenticates with
//     PASS/NICK, waits for the welcome numeric, joins the channel and then
//     surfaces every PRIVMSG as a router.Message. PINGs are answered inline and
//     never reach the caller. There is no automatic reconnect: when the read
//     loop ends the client stays Disconnected.
//   - Scheduler.Run: a fixed-interval loop that greets the channel once the web
//     front end has been loaded and, while nobody is interacting, posts an idle
//     trigger phrase whenever the idle threshold elapses. It shares a State with
//     the HTTP handlers, which pause it while serving a user.
//
// Credentials: the IRC client requires a user OAuth token with chat:read and
// chat:edit scopes. If no bot nick is configured, the login that owns the
// token is resolved with twitchapi.ValidateToken.
package chat
