package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"resident_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errUnknownContact = errors.New("unknown contact")

// UserStore is satisfied by *user.UserRepo.
type UserStore interface {
	GetByName(ctx context.Context, name string) (*model.User, error)
	Create(ctx context.Context, user *model.User) (primitive.ObjectID, error)
	ListContacts(ctx context.Context, self string) ([]*model.User, error)
}

func (c *App) getUserAndCreateIfNotExist(ctx context.Context, username string) (*model.User, error) {
	user, err := c.userRepo.GetByName(ctx, username)
	if err != nil {
		return nil, err
	}

	if user != nil {
		return user, nil
	}

	user = &model.User{
		Name:     username,
		FullName: username,
	}

	_, err = c.userRepo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// choosePeer prints the contact list and reads the recipient's name.
func (c *App) choosePeer(ctx context.Context, in io.Reader, out io.Writer) (*model.User, error) {
	contacts, err := c.userRepo.ListContacts(ctx, c.user.Name)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	fmt.Fprintln(out, "Contacts:")
	for _, u := range contacts {
		fmt.Fprintf(out, "  [%s] %-16s %s\n", u.Initials(), u.Name, u.Preview())
	}

	var toName string
	fmt.Fprint(out, "Enter recipient's name: ")
	if _, err := fmt.Fscan(in, &toName); err != nil { // reads until whitespace
		return nil, err
	}

	for _, u := range contacts {
		if u.Name == toName {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errUnknownContact, toName)
}

func displayName(u *model.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Name
}
