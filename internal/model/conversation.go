package model

import "fmt"

type (
	// ConversationID names one participant's log of a direct conversation:
	// messages exchanged between Owner and Peer as seen by Owner.
	ConversationID struct {
		Owner string `json:"owner"`
		Peer  string `json:"peer"`
	}
)

func NewConversationID(owner, peer string) (ConversationID, error) {
	c := ConversationID{Owner: owner, Peer: peer}
	return c, c.Validate()
}

func (c ConversationID) Validate() error {
	if c.Owner == "" || c.Peer == "" {
		return fmt.Errorf("%w: owner and peer are required", ErrInvalidConversation)
	}
	if c.Owner == c.Peer {
		return fmt.Errorf("%w: owner and peer must differ", ErrInvalidConversation)
	}
	return nil
}

// Mirror is the same conversation as seen by the peer.
func (c ConversationID) Mirror() ConversationID {
	return ConversationID{Owner: c.Peer, Peer: c.Owner}
}

// PairKey identifies the conversation regardless of which side is looking.
func (c ConversationID) PairKey() string {
	if c.Owner < c.Peer {
		return c.Owner + "|" + c.Peer
	}
	return c.Peer + "|" + c.Owner
}

func (c ConversationID) String() string {
	return c.Owner + "/" + c.Peer
}
