package model

import "time"

// User is a Haiku+ account as returned by /api/users/me and embedded as the
// author of each haiku.
type User struct {
	Object
	ExternalID  string // Google+ id of the account
	DisplayName string
	PhotoURL    string
	ProfileURL  string
	LastUpdated time.Time
}

// UserSchema declares the wire fields of a User.
var UserSchema = NewSchema(
	StringField(IdentifierKey, func(u *User) *string { return &u.Identifier }),
	StringField("google_plus_id", func(u *User) *string { return &u.ExternalID }),
	StringField("google_display_name", func(u *User) *string { return &u.DisplayName }),
	StringField("google_photo_url", func(u *User) *string { return &u.PhotoURL }),
	StringField("google_profile_url", func(u *User) *string { return &u.ProfileURL }),
	TimeField("last_updated", func(u *User) *time.Time { return &u.LastUpdated }),
)

// UserFromRecord builds a User from r.
func UserFromRecord(r Record) *User {
	return UserSchema.FromRecord(r)
}

// Record returns the wire form of u.
func (u *User) Record() Record {
	return UserSchema.ToRecord(u)
}
