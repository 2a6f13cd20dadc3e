package model

import (
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const DefaultLastMessage = "Merhaba!"

type (
	User struct {
		ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
		Name            string             `json:"name" bson:"name"`
		FullName        string             `json:"full_name" bson:"fullName"`
		ProfileImageURL string             `json:"profile_image_url" bson:"profileImageURL"`
		LastMessage     string             `json:"last_message" bson:"lastMessage,omitempty"`
	}
)

// Initials is the avatar placeholder: the first two letters of the display
// name, upper-cased.
func (u *User) Initials() string {
	name := strings.TrimSpace(u.FullName)
	if name == "" {
		name = strings.TrimSpace(u.Name)
	}

	var out []rune
	for _, r := range name {
		if len(out) == 2 {
			break
		}
		out = append(out, unicode.ToUpper(r))
	}
	return string(out)
}

func (u *User) Preview() string {
	if u.LastMessage == "" {
		return DefaultLastMessage
	}
	return u.LastMessage
}
