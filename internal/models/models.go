package models

import "time"

// User is a registered account. PasswordHash never leaves the service.
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Summary returns the public projection of the user.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Login: u.Login}
}

type UserSummary struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Book is a text owned by a single user. Deleted books stay stored until
// restored.
type Book struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"ownerId"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	ExternalID *string   `json:"externalId,omitempty"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (b Book) Summary() BookSummary {
	return BookSummary{ID: b.ID, Title: b.Title}
}

type BookSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// AccessGrant lets TargetID read the books owned by OwnerID.
type AccessGrant struct {
	OwnerID   int64     `json:"ownerId"`
	TargetID  int64     `json:"targetId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExternalBook is a normalized catalog search hit.
type ExternalBook struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
