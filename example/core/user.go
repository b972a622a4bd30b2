package core

import (
	"github.com/AntonStoeckl/unit-of-work-orm-go/orm"
)

// User is a registered user. Email is unique among all users.
type User struct {
	ID       int64
	Name     string
	Email    string            `orm:"unique"`
	Location orm.Ref[Location] `orm:"one_to_one"`
}

// NewUser builds a transient user living at location.
func NewUser(name, email string, location *Location) *User {
	return &User{
		Name:     name,
		Email:    email,
		Location: orm.RefTo(location),
	}
}

// Rename changes the name of the user.
func (u *User) Rename(name string) {
	u.Name = name
}

// Entities returns the entity types of the example application.
func Entities() []any {
	return []any{User{}, Location{}}
}
