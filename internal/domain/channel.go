package domain

type (
	ChannelID string
	ServerID  string
)

// Channel is the scoping unit for one shared media session and its chat.
// It maps 1:1 to a media router while at least one member is connected.
type Channel struct {
	ID     ChannelID
	Server ServerID
}
