package irc

// Commands sent or received by the client.
const (
	CmdCap     = "CAP"     // IRCv3 capability negotiation.
	CmdJoin    = "JOIN"    // Join a channel.
	CmdNick    = "NICK"    // Set the connection nickname.
	CmdNotice  = "NOTICE"  // Server diagnostics; informational only.
	CmdPart    = "PART"    // Leave a channel.
	CmdPass    = "PASS"    // Connection password (the oauth token on Twitch).
	CmdPing    = "PING"    // Liveness probe from the server.
	CmdPong    = "PONG"    // Reply to a PING.
	CmdPrivmsg = "PRIVMSG" // Chat message to a channel.
	CmdQuit    = "QUIT"    // Terminate the client session.
	CmdUser    = "USER"    // Username/realname registration.

	// CmdReconnect is a Twitch extension: the server is about to terminate
	// the connection and the client should reconnect.
	CmdReconnect = "RECONNECT"
)

// Reply codes.
const (
	RplWelcome = "001" // Registration completed.
)

// Capabilities required for moderation work: membership events, message
// tags (badges and user metadata) and moderator-context commands.
const Capabilities = "twitch.tv/membership twitch.tv/tags twitch.tv/commands"
