package domain

import (
	"io"
	"time"
)

// LoginRequest is the body of POST /api/users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /api/users.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// User is the public view of a user. It never carries credentials.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	User
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Game is the public view of a catalog record.
type Game struct {
	Name         string    `json:"name"`
	StorageID    string    `json:"storageId"`
	ViewCount    int64     `json:"viewCount"`
	CreatedAt    time.Time `json:"createdAt"`
	GameURL      string    `json:"gameUrl,omitempty"`
	GameImageURL string    `json:"gameImageUrl,omitempty"`
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	GameID       string `json:"gameId"`
	GameURL      string `json:"gameUrl"`
	GameImageURL string `json:"gameImageUrl,omitempty"`
}

// ViewsResponse carries a game's view count.
type ViewsResponse struct {
	PlayersViews int64 `json:"playersViews"`
}

// UploadFile is one file of a multipart upload. Open may be called more
// than once; every call returns a reader positioned at the start.
type UploadFile struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// IngestRequest is the input of the upload pipeline. Image is optional.
// BaseURL is the scheme and host the returned URLs are built on; empty
// yields host-relative URLs.
type IngestRequest struct {
	Name    string
	Archive *UploadFile
	Image   *UploadFile
	BaseURL string
}
